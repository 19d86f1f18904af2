package rpcrelay

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/bloXroute-Labs/rpcrelay/common"
	"github.com/bloXroute-Labs/rpcrelay/httpclient"
	"github.com/bloXroute-Labs/rpcrelay/store"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testServiceURL = "https://cloudflare-eth.com/v1/mainnet"
	testPayload    = `{"jsonrpc":"2.0","method":"eth_blockNumber","params":[],"id":1}`
	testResult     = `{"jsonrpc":"2.0","id":1,"result":"0x10d4f"}`
)

type MockTransport struct {
	ForwardFn func(ctx context.Context, req httpclient.Request) (httpclient.Response, error)
	calls     int
	last      httpclient.Request
}

func (m *MockTransport) Forward(ctx context.Context, req httpclient.Request) (httpclient.Response, error) {
	m.calls++
	m.last = req
	if m.ForwardFn != nil {
		return m.ForwardFn(ctx, req)
	}
	return req.Transform(httpclient.Response{
		Status:  200,
		Headers: []httpclient.Header{{Name: "Date", Value: "Thu, 01 Jan 2026 00:00:00 GMT"}},
		Body:    []byte(testResult),
	}), nil
}

var _ httpclient.Transport = (*MockTransport)(nil)

func newTestService(t *testing.T, transport *MockTransport) *Service {
	t.Helper()
	svc := NewService(WithTransport(transport), WithNodeID("test-node"))
	require.NoError(t, svc.auth.Bootstrap(testAdmin))
	require.NoError(t, svc.Init())
	return svc
}

func testFee(payload, url string) *uint256.Int {
	return DefaultCostModel().Cost(len(payload), len(url), httpclient.DefaultMaxResponseBytes)
}

func TestService_Relay(t *testing.T) {
	fee := testFee(testPayload, testServiceURL)
	plus := func(n uint64) *uint256.Int { return new(uint256.Int).Add(fee, uint256.NewInt(n)) }

	tests := map[string]struct {
		roles         []common.Role
		url           string
		offer         *uint256.Int
		forwardFn     func(ctx context.Context, req httpclient.Request) (httpclient.Response, error)
		wantErr       error
		wantKind      ErrorKind
		wantForwarded bool
		wantLeft      *uint256.Int
	}{
		"caller without relay role": {
			url:      testServiceURL,
			offer:    plus(0),
			wantErr:  ErrNoPermission,
			wantKind: KindNoPermission,
			wantLeft: plus(0),
		},
		"too few cycles leaves the offer untouched": {
			roles:    []common.Role{common.RoleRelay},
			url:      testServiceURL,
			offer:    new(uint256.Int).Sub(fee, uint256.NewInt(1)),
			wantKind: KindTooFewCycles,
			wantLeft: new(uint256.Int).Sub(fee, uint256.NewInt(1)),
		},
		"host not on allowlist": {
			roles:    []common.Role{common.RoleRelay},
			url:      "https://example.com/rpc",
			offer:    plus(1_000_000_000),
			wantErr:  ErrHostNotAllowed,
			wantKind: KindHostNotAllowed,
			wantLeft: plus(1_000_000_000),
		},
		"url without host": {
			roles:    []common.Role{common.RoleRelay},
			url:      "cloudflare-eth.com",
			offer:    plus(1_000_000_000),
			wantErr:  ErrHostMissing,
			wantKind: KindHostMissing,
			wantLeft: plus(1_000_000_000),
		},
		"charges exactly the fee": {
			roles:         []common.Role{common.RoleRelay},
			url:           testServiceURL,
			offer:         plus(777),
			wantForwarded: true,
			wantLeft:      uint256.NewInt(777),
		},
		"free relay charges nothing": {
			roles:         []common.Role{common.RoleRelay, common.RoleFreeRelay},
			url:           testServiceURL,
			offer:         uint256.NewInt(5),
			wantForwarded: true,
			wantLeft:      uint256.NewInt(5),
		},
		"transport failure keeps the charge": {
			roles: []common.Role{common.RoleRelay},
			url:   testServiceURL,
			offer: plus(10),
			forwardFn: func(ctx context.Context, req httpclient.Request) (httpclient.Response, error) {
				return httpclient.Response{}, &httpclient.TransportError{Code: httpclient.RejectionSysTransient, Message: "connection reset"}
			},
			wantKind:      KindTransport,
			wantForwarded: true,
			wantLeft:      uint256.NewInt(10),
		},
		"plain transport error is wrapped": {
			roles: []common.Role{common.RoleRelay},
			url:   testServiceURL,
			offer: plus(0),
			forwardFn: func(ctx context.Context, req httpclient.Request) (httpclient.Response, error) {
				return httpclient.Response{}, errors.New("boom")
			},
			wantKind:      KindTransport,
			wantForwarded: true,
			wantLeft:      uint256.NewInt(0),
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			transport := &MockTransport{ForwardFn: tt.forwardFn}
			svc := newTestService(t, transport)
			if len(tt.roles) > 0 {
				require.NoError(t, svc.auth.Grant(testCaller, tt.roles...))
			}
			funds := NewOfferedFunds(tt.offer)

			res, lm, err := svc.Relay(context.Background(), &RelayParams{
				Caller:     testCaller,
				Funds:      funds,
				Payload:    []byte(testPayload),
				ServiceURL: tt.url,
			})
			require.NotNil(t, lm)
			assert.Equal(t, tt.wantLeft, funds.Available())
			assert.Equal(t, tt.wantForwarded, transport.calls == 1)
			assert.Equal(t, float64(1), testutil.ToFloat64(svc.metrics.relayRequests))

			if tt.wantKind != "" {
				require.Error(t, err)
				if tt.wantErr != nil {
					require.ErrorIs(t, err, tt.wantErr)
				}
				assert.Equal(t, tt.wantKind, errorKind(err))
				assert.Equal(t, float64(1), testutil.ToFloat64(svc.metrics.relayErrors.WithLabelValues(string(tt.wantKind))))
				assert.Empty(t, svc.HostCounts())
				return
			}

			require.NoError(t, err)
			assert.Equal(t, 200, res.Status)
			assert.Equal(t, testResult, string(res.Body))
			assert.Equal(t, "cloudflare-eth.com", res.Host)
			assert.Equal(t, fee, res.Fee)
			assert.NotEmpty(t, res.ReqID)
			assert.Equal(t, map[string]int64{"cloudflare-eth.com": 1}, svc.HostCounts())
		})
	}
}

func TestService_RelayTooFewCyclesMessage(t *testing.T) {
	svc := newTestService(t, &MockTransport{})
	require.NoError(t, svc.auth.Grant(testCaller, common.RoleRelay))

	_, _, err := svc.Relay(context.Background(), &RelayParams{
		Caller:     testCaller,
		Funds:      NewOfferedFunds(uint256.NewInt(3)),
		Payload:    []byte(testPayload),
		ServiceURL: testServiceURL,
	})
	var tooFew *TooFewCyclesError
	require.ErrorAs(t, err, &tooFew)
	assert.Equal(t, testFee(testPayload, testServiceURL), tooFew.Required)
	assert.Equal(t, uint256.NewInt(3), tooFew.Available)
	assert.Equal(t, "Too few cycles, expected "+tooFew.Required.Dec()+" but got 3", err.Error())
}

func TestService_RelayForwardedRequest(t *testing.T) {
	transport := &MockTransport{}
	svc := newTestService(t, transport)
	require.NoError(t, svc.auth.Grant(testCaller, common.RoleRelay, common.RoleFreeRelay))

	res, _, err := svc.Relay(context.Background(), &RelayParams{
		Caller:           testCaller,
		Payload:          []byte(testPayload),
		ServiceURL:       testServiceURL,
		MaxResponseBytes: 4096,
	})
	require.NoError(t, err)

	req := transport.last
	assert.Equal(t, testServiceURL, req.URL)
	assert.Equal(t, "POST", req.Method)
	assert.Equal(t, []byte(testPayload), req.Body)
	assert.Equal(t, uint64(4096), req.MaxResponseBytes)
	assert.Equal(t, []httpclient.Header{
		{Name: common.HeaderContentType, Value: common.MediaTypeJSON},
		{Name: common.HeaderHost, Value: "cloudflare-eth.com"},
	}, req.Headers)
	require.NotNil(t, req.Transform)

	// the fee reflects the caller supplied bound even when waived
	assert.Equal(t, DefaultCostModel().Cost(len(testPayload), len(testServiceURL), 4096), res.Fee)
	assert.True(t, res.Charged.IsZero())
	assert.Equal(t, res.Fee.Dec(), receiptFee(t, svc))
}

func receiptFee(t *testing.T, svc *Service) string {
	t.Helper()
	receipts := svc.Receipts(context.Background())
	require.Len(t, receipts, 1)
	assert.True(t, receipts[0].Free)
	assert.Equal(t, "eth_blockNumber", receipts[0].RPCMethod)
	assert.Equal(t, "test-node", receipts[0].NodeID)
	return receipts[0].Fee
}

func TestService_RelayIgnoresCallerCancel(t *testing.T) {
	transport := &MockTransport{}
	transport.ForwardFn = func(ctx context.Context, req httpclient.Request) (httpclient.Response, error) {
		if ctx.Err() != nil {
			return httpclient.Response{}, ctx.Err()
		}
		return req.Transform(httpclient.Response{Status: 200, Body: []byte(testResult)}), nil
	}
	svc := newTestService(t, transport)
	require.NoError(t, svc.auth.Grant(testCaller, common.RoleRelay))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fee := testFee(testPayload, testServiceURL)
	_, _, err := svc.Relay(ctx, &RelayParams{
		Caller:     testCaller,
		Funds:      NewOfferedFunds(fee),
		Payload:    []byte(testPayload),
		ServiceURL: testServiceURL,
	})
	require.NoError(t, err)
}

func TestService_RelayPassesUpstreamStatus(t *testing.T) {
	transport := &MockTransport{ForwardFn: func(ctx context.Context, req httpclient.Request) (httpclient.Response, error) {
		return req.Transform(httpclient.Response{
			Status:  503,
			Headers: []httpclient.Header{{Name: "Retry-After", Value: "1"}},
			Body:    []byte("unavailable"),
		}), nil
	}}
	svc := newTestService(t, transport)
	require.NoError(t, svc.auth.Grant(testCaller, common.RoleRelay, common.RoleFreeRelay))

	res, _, err := svc.Relay(context.Background(), &RelayParams{
		Caller:     testCaller,
		Payload:    []byte(testPayload),
		ServiceURL: testServiceURL,
	})
	require.NoError(t, err)
	assert.Equal(t, 503, res.Status)
	assert.Equal(t, "unavailable", string(res.Body))
}

func registerTestProvider(t *testing.T, svc *Service) (uint64, *common.Provider) {
	t.Helper()
	require.NoError(t, svc.auth.Grant(testProvider, common.RoleRegisterProvider))
	id, err := svc.RegisterProvider(context.Background(), testProvider, RegisterProviderArgs{
		ChainID:              1,
		ServiceURL:           "https://mainnet.infura.io/v3/",
		APIKey:               "0123abcd",
		CyclesPerCall:        1000,
		CyclesPerMessageByte: 10,
	})
	require.NoError(t, err)
	p, err := svc.providers.Get(id)
	require.NoError(t, err)
	return id, p
}

func TestService_RelayViaProvider(t *testing.T) {
	transport := &MockTransport{}
	svc := newTestService(t, transport)
	require.NoError(t, svc.auth.Grant(testCaller, common.RoleRelay))
	id, p := registerTestProvider(t, svc)
	assert.Equal(t, float64(1), testutil.ToFloat64(svc.metrics.providers))

	providerFee := ProviderFee(p, len(testPayload))
	fee := new(uint256.Int).Add(testFee(testPayload, p.TargetURL()), providerFee)

	quote, err := svc.RequestCost(context.Background(), &CostParams{Payload: testPayload, ProviderID: &id})
	require.NoError(t, err)
	assert.Equal(t, fee, quote)

	funds := NewOfferedFunds(new(uint256.Int).Add(fee, uint256.NewInt(9)))
	res, _, err := svc.RelayViaProvider(context.Background(), &RelayParams{
		Caller:     testCaller,
		Funds:      funds,
		Payload:    []byte(testPayload),
		ProviderID: id,
	})
	require.NoError(t, err)
	assert.Equal(t, fee, res.Charged)
	assert.Equal(t, uint256.NewInt(9), funds.Available())
	assert.Equal(t, "https://mainnet.infura.io/v3/0123abcd", transport.last.URL)
	assert.Equal(t, "mainnet.infura.io", res.Host)

	p, err = svc.providers.Get(id)
	require.NoError(t, err)
	assert.Equal(t, providerFee, p.CyclesOwed)
}

func TestService_RelayViaProviderAccruesOnFailure(t *testing.T) {
	transport := &MockTransport{ForwardFn: func(ctx context.Context, req httpclient.Request) (httpclient.Response, error) {
		return httpclient.Response{}, &httpclient.TransportError{Code: httpclient.RejectionSysFatal, Message: "no route"}
	}}
	svc := newTestService(t, transport)
	require.NoError(t, svc.auth.Grant(testCaller, common.RoleRelay))
	id, p := registerTestProvider(t, svc)

	fee := new(uint256.Int).Add(testFee(testPayload, p.TargetURL()), ProviderFee(p, len(testPayload)))
	_, _, err := svc.RelayViaProvider(context.Background(), &RelayParams{
		Caller:     testCaller,
		Funds:      NewOfferedFunds(fee),
		Payload:    []byte(testPayload),
		ProviderID: id,
	})
	require.Error(t, err)

	p, err = svc.providers.Get(id)
	require.NoError(t, err)
	assert.Equal(t, ProviderFee(p, len(testPayload)), p.CyclesOwed)
}

func TestService_RelayViaProviderFreeSkipsAccrual(t *testing.T) {
	svc := newTestService(t, &MockTransport{})
	require.NoError(t, svc.auth.Grant(testCaller, common.RoleRelay, common.RoleFreeRelay))
	id, _ := registerTestProvider(t, svc)

	_, _, err := svc.RelayViaProvider(context.Background(), &RelayParams{
		Caller:     testCaller,
		Payload:    []byte(testPayload),
		ProviderID: id,
	})
	require.NoError(t, err)

	p, err := svc.providers.Get(id)
	require.NoError(t, err)
	assert.True(t, p.CyclesOwed.IsZero())
}

func TestService_RelayViaUnknownProvider(t *testing.T) {
	transport := &MockTransport{}
	svc := newTestService(t, transport)
	require.NoError(t, svc.auth.Grant(testCaller, common.RoleRelay))

	funds := NewOfferedFunds(uint256.NewInt(1_000_000_000_000))
	_, _, err := svc.RelayViaProvider(context.Background(), &RelayParams{
		Caller:     testCaller,
		Funds:      funds,
		Payload:    []byte(testPayload),
		ProviderID: 7,
	})
	require.ErrorIs(t, err, ErrProviderNotFound)
	assert.Equal(t, KindProviderNotFound, errorKind(err))
	assert.Equal(t, uint256.NewInt(1_000_000_000_000), funds.Available())
	assert.Zero(t, transport.calls)
}

func TestService_UnregisterDuringForward(t *testing.T) {
	transport := &MockTransport{}
	svc := newTestService(t, transport)
	require.NoError(t, svc.auth.Grant(testCaller, common.RoleRelay))
	id, p := registerTestProvider(t, svc)

	transport.ForwardFn = func(ctx context.Context, req httpclient.Request) (httpclient.Response, error) {
		require.NoError(t, svc.UnregisterProvider(ctx, testProvider, id))
		return req.Transform(httpclient.Response{Status: 200, Body: []byte(testResult)}), nil
	}

	fee := new(uint256.Int).Add(testFee(testPayload, p.TargetURL()), ProviderFee(p, len(testPayload)))
	funds := NewOfferedFunds(fee)
	res, _, err := svc.RelayViaProvider(context.Background(), &RelayParams{
		Caller:     testCaller,
		Funds:      funds,
		Payload:    []byte(testPayload),
		ProviderID: id,
	})
	require.NoError(t, err)
	assert.Equal(t, fee, res.Charged)
	assert.True(t, funds.Available().IsZero())
	assert.Equal(t, fee, funds.Accepted())

	_, err = svc.providers.Get(id)
	require.ErrorIs(t, err, ErrProviderNotFound)
	assert.Equal(t, float64(0), testutil.ToFloat64(svc.metrics.providers))
}

// hookedStore runs beforeUpdate once, ahead of the next write transaction.
type hookedStore struct {
	store.Store
	beforeUpdate func()
}

func (h *hookedStore) Update(fn func(tx store.Tx) error) error {
	if hook := h.beforeUpdate; hook != nil {
		h.beforeUpdate = nil
		hook()
	}
	return h.Store.Update(fn)
}

func TestService_UnregisterBeforeAccrual(t *testing.T) {
	db := &hookedStore{Store: store.NewMemory()}
	transport := &MockTransport{}
	svc := NewService(WithTransport(transport), WithStore(db))
	require.NoError(t, svc.auth.Bootstrap(testAdmin))
	require.NoError(t, svc.Init())
	require.NoError(t, svc.auth.Grant(testCaller, common.RoleRelay))
	id, p := registerTestProvider(t, svc)

	// the first write of the relay is the accrual
	db.beforeUpdate = func() {
		require.NoError(t, db.Store.Update(func(tx store.Tx) error {
			return tx.Delete(common.ProviderKey(id))
		}))
	}

	fee := new(uint256.Int).Add(testFee(testPayload, p.TargetURL()), ProviderFee(p, len(testPayload)))
	funds := NewOfferedFunds(fee)
	res, _, err := svc.RelayViaProvider(context.Background(), &RelayParams{
		Caller:     testCaller,
		Funds:      funds,
		Payload:    []byte(testPayload),
		ProviderID: id,
	})
	require.NoError(t, err)
	assert.Nil(t, db.beforeUpdate)
	assert.Equal(t, 1, transport.calls)
	assert.Equal(t, fee, res.Charged)
	assert.True(t, funds.Available().IsZero())

	_, err = svc.providers.Get(id)
	require.ErrorIs(t, err, ErrProviderNotFound)
}

func TestService_RelayResponseBoundCeiling(t *testing.T) {
	tests := map[string]struct {
		ceiling   uint64
		requested uint64
		wantBound uint64
		wantErr   bool
	}{
		"unset defaults to 2 MiB":     {requested: 0, wantBound: httpclient.DefaultMaxResponseBytes},
		"unset under a lower ceiling": {ceiling: 4096, requested: 0, wantBound: 4096},
		"at the ceiling":              {ceiling: 4096, requested: 4096, wantBound: 4096},
		"above the ceiling":           {ceiling: 4096, requested: 4097, wantErr: true},
		"above the default ceiling":   {requested: httpclient.DefaultMaxResponseBytes + 1, wantErr: true},
		"max uint64":                  {requested: math.MaxUint64, wantErr: true},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			transport := &MockTransport{}
			svc := NewService(WithTransport(transport), WithMaxResponseBytes(tt.ceiling))
			require.NoError(t, svc.auth.Grant(testCaller, common.RoleRelay))
			offer := uint256.NewInt(math.MaxUint64)
			funds := NewOfferedFunds(offer)

			_, _, err := svc.Relay(context.Background(), &RelayParams{
				Caller:           testCaller,
				Funds:            funds,
				Payload:          []byte(testPayload),
				ServiceURL:       testServiceURL,
				MaxResponseBytes: tt.requested,
			})
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidArgument)
				assert.Equal(t, KindInvalidArgument, errorKind(err))
				assert.Zero(t, transport.calls)
				assert.Equal(t, offer, funds.Available())

				_, err = svc.RequestCost(context.Background(), &CostParams{Payload: testPayload, ServiceURL: testServiceURL, MaxResponseBytes: tt.requested})
				require.ErrorIs(t, err, ErrInvalidArgument)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantBound, transport.last.MaxResponseBytes)
		})
	}
}

func TestService_RequestCost(t *testing.T) {
	svc := newTestService(t, &MockTransport{})

	got, err := svc.RequestCost(context.Background(), &CostParams{Payload: testPayload, ServiceURL: testServiceURL})
	require.NoError(t, err)
	assert.Equal(t, testFee(testPayload, testServiceURL), got)

	got, err = svc.RequestCost(context.Background(), &CostParams{Payload: testPayload, ServiceURL: testServiceURL, MaxResponseBytes: 1})
	require.NoError(t, err)
	assert.Equal(t, DefaultCostModel().Cost(len(testPayload), len(testServiceURL), 1), got)

	missing := uint64(3)
	_, err = svc.RequestCost(context.Background(), &CostParams{Payload: testPayload, ProviderID: &missing})
	require.ErrorIs(t, err, ErrProviderNotFound)
}

func TestService_UnregisterProvider(t *testing.T) {
	svc := newTestService(t, &MockTransport{})
	id, _ := registerTestProvider(t, svc)

	err := svc.UnregisterProvider(context.Background(), testCaller, id)
	require.ErrorIs(t, err, ErrProviderOwnership)

	list, err := svc.ListProviders(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, svc.UnregisterProvider(context.Background(), testAdmin, id))
	list, err = svc.ListProviders(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestService_Withdraw(t *testing.T) {
	var gotTarget string
	transferer := &MockTransferer{TransferFn: func(ctx context.Context, target string, amount *uint256.Int) error {
		gotTarget = target
		return nil
	}}
	s := NewService(WithTransport(&MockTransport{}))
	registry := NewProviderRegistry(s.store, s.auth, transferer, nil)
	svc := NewService(WithTransport(&MockTransport{}), WithStore(s.store), WithAuthStore(s.auth), WithProviderRegistry(registry))
	id, _ := registerTestProvider(t, svc)
	require.NoError(t, registry.Accrue(id, uint256.NewInt(64)))

	amount, err := svc.Withdraw(context.Background(), testProvider, id, "treasury")
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(64), amount)
	assert.Equal(t, "treasury", gotTarget)

	_, err = svc.Withdraw(context.Background(), testCaller, id, "treasury")
	require.ErrorIs(t, err, ErrForbidden)
}

func TestService_Authorize(t *testing.T) {
	svc := newTestService(t, &MockTransport{})

	require.ErrorIs(t, svc.Authorize(context.Background(), testCaller, testCaller, common.RoleRelay), ErrForbidden)
	require.NoError(t, svc.Authorize(context.Background(), testAdmin, testCaller, common.RoleRelay))

	ok, err := svc.HasRole(testCaller, common.RoleRelay)
	require.NoError(t, err)
	assert.True(t, ok)

	ids, err := svc.ListAuthorized(context.Background(), testAdmin, common.RoleRelay)
	require.NoError(t, err)
	assert.Equal(t, []common.Identity{testCaller}, ids)
}

func TestService_Stable(t *testing.T) {
	svc := newTestService(t, &MockTransport{})
	ctx := context.Background()

	require.NoError(t, svc.StableWrite(ctx, testAdmin, 3, []byte{0xde, 0xad}))
	size, err := svc.StableSize(ctx, testAdmin)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), size)

	data, err := svc.StableRead(ctx, testAdmin, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0xde, 0xad}, data)

	_, err = svc.StableSize(ctx, testCaller)
	require.ErrorIs(t, err, ErrForbidden)
	require.NoError(t, svc.StableAuthorize(ctx, testAdmin, testCaller))
	_, err = svc.StableSize(ctx, testCaller)
	require.NoError(t, err)
}
