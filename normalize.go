package rpcrelay

import "github.com/bloXroute-Labs/rpcrelay/httpclient"

// Normalize keeps only the status and body of an upstream response. Headers
// such as Date differ between executions of the same call and are dropped.
func Normalize(resp httpclient.Response) httpclient.Response {
	return httpclient.Response{
		Status:  resp.Status,
		Headers: []httpclient.Header{},
		Body:    resp.Body,
	}
}
