package rpcrelay

import (
	"context"
	"crypto/subtle"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/bloXroute-Labs/rpcrelay/fluentstats"
	"github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

const (
	DefaultReceiptTTL      = 10 * time.Minute
	receiptCleanupInterval = time.Minute
)

// IDataService holds caller accounts and the recent relay receipts.
type IDataService interface {
	VerifyAccount(accountID, secret string) bool
	HasAccounts() bool
	RecordReceipt(ctx context.Context, receipt RelayReceipt)
	Receipts(ctx context.Context) []RelayReceipt
}

type DataService struct {
	logger        *zap.Logger
	nodeID        string
	tracer        trace.Tracer
	fluentD       fluentstats.Stats
	receipts      *cache.Cache
	receiptTTL    time.Duration
	accountsLists *AccountsLists
}

func NewDataService(opts ...DataServiceOption) *DataService {
	svc := &DataService{
		logger:     zap.NewNop(),
		fluentD:    fluentstats.NoStats{},
		receiptTTL: DefaultReceiptTTL,
		accountsLists: &AccountsLists{
			AccountIDToInfo:   make(map[string]*AccountInfo),
			AccountNameToInfo: make(map[AccountName]*AccountInfo),
		},
	}

	for _, opt := range opts {
		opt(svc)
	}
	if svc.receipts == nil {
		svc.receipts = cache.New(svc.receiptTTL, receiptCleanupInterval)
	}
	return svc
}

func LoadAccountsFromYAML(filename string) (*AccountsLists, error) {
	var data []AccountInfo
	yamlBytes, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("reading accounts file: %w", err)
	}
	err = yaml.Unmarshal(yamlBytes, &data)
	if err != nil {
		return nil, fmt.Errorf("parsing accounts file: %w", err)
	}
	a := AccountsLists{
		AccountIDToInfo:   make(map[string]*AccountInfo),
		AccountNameToInfo: make(map[AccountName]*AccountInfo),
	}
	for i := range data {
		v := &data[i]
		if v.AccountID == "" {
			return nil, fmt.Errorf("account %q has no account-id", v.AccountName)
		}
		a.AccountIDToInfo[v.AccountID] = v
		a.AccountNameToInfo[v.AccountName] = v
	}
	return &a, nil
}

type AccountName string
type AccountInfo struct {
	AccountName AccountName `yaml:"account-name"`
	AccountID   string      `yaml:"account-id"`
	Secret      string      `yaml:"secret"`
}
type AccountsLists struct {
	AccountIDToInfo   map[string]*AccountInfo
	AccountNameToInfo map[AccountName]*AccountInfo
}

func (s *DataService) HasAccounts() bool {
	return s.accountsLists != nil && len(s.accountsLists.AccountIDToInfo) > 0
}

// VerifyAccount checks secret against the configured account in constant time.
func (s *DataService) VerifyAccount(accountID, secret string) bool {
	if s.accountsLists == nil {
		return false
	}
	info, ok := s.accountsLists.AccountIDToInfo[accountID]
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(info.Secret), []byte(secret)) == 1
}

func (s *DataService) RecordReceipt(ctx context.Context, receipt RelayReceipt) {
	if s.tracer != nil {
		_, span := s.tracer.Start(ctx, "recordReceipt")
		defer span.End()
	}
	receipt.NodeID = s.nodeID
	s.receipts.Set(receipt.ReqID, receipt, cache.DefaultExpiration)
	s.fluentD.Emit(fluentstats.Event{
		Type:   TypeRelay,
		Name:   StatsRelay,
		NodeID: s.nodeID,
		Time:   time.Now().UTC(),
		Data:   receipt,
	})
}

// Receipts returns the unexpired receipts, newest first.
func (s *DataService) Receipts(ctx context.Context) []RelayReceipt {
	items := s.receipts.Items()
	out := make([]RelayReceipt, 0, len(items))
	for _, item := range items {
		if r, ok := item.Object.(RelayReceipt); ok {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ReceivedAt.After(out[j].ReceivedAt)
	})
	return out
}

var _ IDataService = (*DataService)(nil)
