package rpcrelay

import (
	"fmt"
	"net/url"
)

// DefaultAllowlistHosts are the upstream hosts relays may reach when no
// allowlist is configured. Entries are compared to the URL host verbatim, so
// an entry that carries a path never matches.
var DefaultAllowlistHosts = []string{
	"cloudflare-eth.com",
	"ethereum.publicnode.com",
	"eth-mainnet.g.alchemy.com",
	"eth-goerli.g.alchemy.com",
	"rpc.flashbots.net",
	"eth-mainnet.blastapi.io",
	"ethereumnodelight.app.runonflux.io",
	"eth.nownodes.io",
	"rpc.ankr.com/eth_goerli",
	"mainnet.infura.io",
	"eth.getblock.io",
	"api.0x.org",
	"erigon-mainnet--rpc.datahub.figment.io",
	"archivenode.io",
	"nd-6eaj5va43jggnpxouzp7y47e4y.ethereum.managedblockchain.us-east-1.amazonaws.com",
	"eth-mainnet.nodereal.io",
	"ethereum-mainnet.s.chainbase.online",
	"eth.llamarpc.com",
	"ethereum-mainnet-rpc.allthatnode.com",
	"api.zmok.io",
	"in-light.eth.linkpool.iono",
	"api.mycryptoapi.com",
	"mainnet.eth.cloud.ava.dono",
	"eth-mainnet.gateway.pokt.network",
}

// Allowlist is the fixed set of hosts a relay may be forwarded to. Matching
// is exact and case sensitive.
type Allowlist struct {
	hosts map[string]struct{}
}

func NewAllowlist(hosts []string) *Allowlist {
	a := &Allowlist{hosts: make(map[string]struct{}, len(hosts))}
	for _, h := range hosts {
		a.hosts[h] = struct{}{}
	}
	return a
}

func (a *Allowlist) Contains(host string) bool {
	_, ok := a.hosts[host]
	return ok
}

func (a *Allowlist) Len() int {
	return len(a.hosts)
}

// IsAllowed parses rawURL and reports whether its host is on the list.
func (a *Allowlist) IsAllowed(rawURL string) (bool, error) {
	host, err := ParseHost(rawURL)
	if err != nil {
		return false, err
	}
	return a.Contains(host), nil
}

// CheckHost returns the host of rawURL, or an error when it cannot be
// parsed or is not on the list.
func (a *Allowlist) CheckHost(rawURL string) (string, error) {
	host, err := ParseHost(rawURL)
	if err != nil {
		return "", err
	}
	if !a.Contains(host) {
		return host, fmt.Errorf("%w: host %s not on allowlist", ErrHostNotAllowed, host)
	}
	return host, nil
}

// ParseHost extracts the host (without port) from rawURL.
func ParseHost(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	host := u.Hostname()
	if host == "" {
		return "", ErrHostMissing
	}
	return host, nil
}
