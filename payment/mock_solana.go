package payment

import (
	"context"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/mock"
)

// MockSolanaRPC is a mock implementation of SolanaRPCClient for testing
type MockSolanaRPC struct {
	mock.Mock
}

// GetTokenAccountBalance mocks the GetTokenAccountBalance method
func (m *MockSolanaRPC) GetTokenAccountBalance(ctx context.Context, account solanago.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenAccountBalanceResult, error) {
	args := m.Called(ctx, account, commitment)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*rpc.GetTokenAccountBalanceResult), args.Error(1)
}

// GetAccountInfo mocks the GetAccountInfo method
func (m *MockSolanaRPC) GetAccountInfo(ctx context.Context, account solanago.PublicKey) (*rpc.GetAccountInfoResult, error) {
	args := m.Called(ctx, account)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*rpc.GetAccountInfoResult), args.Error(1)
}

// GetLatestBlockhash mocks the GetLatestBlockhash method
func (m *MockSolanaRPC) GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
	args := m.Called(ctx, commitment)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*rpc.GetLatestBlockhashResult), args.Error(1)
}

// SendTransactionWithOpts mocks the SendTransactionWithOpts method
func (m *MockSolanaRPC) SendTransactionWithOpts(ctx context.Context, tx *solanago.Transaction, opts rpc.TransactionOpts) (solanago.Signature, error) {
	args := m.Called(ctx, tx, opts)
	return args.Get(0).(solanago.Signature), args.Error(1)
}

// GetSignatureStatuses mocks the GetSignatureStatuses method
func (m *MockSolanaRPC) GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, transactionSignatures ...solanago.Signature) (*rpc.GetSignatureStatusesResult, error) {
	args := m.Called(ctx, searchTransactionHistory, transactionSignatures)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*rpc.GetSignatureStatusesResult), args.Error(1)
}
