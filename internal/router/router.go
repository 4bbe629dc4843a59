package router

import (
	"net/http"

	"github.com/dujyo/backend/internal/auth"
	"github.com/dujyo/backend/internal/consensus"
	"github.com/dujyo/backend/internal/ledger"
	"github.com/dujyo/backend/internal/middleware"
	"github.com/dujyo/backend/internal/multisig"
	"github.com/dujyo/backend/internal/staking"
	"github.com/dujyo/backend/internal/vesting"
)

// New builds the API surface. Reads are public, mutating routes sit behind
// bearer auth, matching the original wire contract.
func New(
	authHandler *auth.Handler,
	ledgerHandler *ledger.Handler,
	vestingHandler *vesting.Handler,
	multisigHandler *multisig.Handler,
	stakingHandler *staking.Handler,
	consensusHandler *consensus.Handler,
	validator middleware.TokenValidator,
) http.Handler {
	mux := http.NewServeMux()
	protect := middleware.JWTAuth(validator)
	post := func(pattern string, h http.HandlerFunc) {
		mux.Handle("POST "+pattern, protect(h))
	}

	// Public.
	mux.HandleFunc("GET /health", ledgerHandler.Health)
	mux.HandleFunc("GET /balance/{address}", ledgerHandler.GetBalance)
	mux.HandleFunc("POST /login", authHandler.Login)
	mux.HandleFunc("POST /register", authHandler.Register)
	mux.HandleFunc("GET /vesting/stats", vestingHandler.Stats)
	mux.HandleFunc("GET /vesting/schedule/{id}", vestingHandler.Get)
	mux.HandleFunc("GET /vesting/list", vestingHandler.List)
	mux.HandleFunc("GET /multisig/stats", multisigHandler.Stats)
	mux.HandleFunc("GET /multisig/list", multisigHandler.List)
	mux.HandleFunc("GET /multisig/wallet/{address}", multisigHandler.GetWallet)
	mux.HandleFunc("GET /multisig/transaction/{hash}", multisigHandler.GetTransaction)
	mux.HandleFunc("GET /staking/stats", stakingHandler.Stats)
	mux.HandleFunc("GET /staking/list", stakingHandler.List)
	mux.HandleFunc("GET /consensus/stats", consensusHandler.Stats)
	mux.HandleFunc("GET /consensus/validators/{track}", consensusHandler.ListValidators)
	mux.HandleFunc("GET /consensus/validator/{address}", consensusHandler.GetValidator)

	// Protected.
	post("/mint", ledgerHandler.Mint)
	post("/transaction", ledgerHandler.Transfer)
	post("/vesting/create", vestingHandler.Create)
	post("/vesting/release", vestingHandler.Release)
	post("/vesting/revoke", vestingHandler.Revoke)
	post("/multisig/create", multisigHandler.CreateWallet)
	post("/multisig/propose", multisigHandler.Propose)
	post("/multisig/sign", multisigHandler.Sign)
	post("/multisig/execute", multisigHandler.Execute)
	post("/staking/create-contract", stakingHandler.CreateContract)
	post("/staking/create-reward-pool", stakingHandler.CreateRewardPool)
	post("/stake", stakingHandler.Stake)
	post("/unstake", stakingHandler.Unstake)
	post("/staking/claim", stakingHandler.Claim)
	post("/consensus/register/economic", consensusHandler.RegisterEconomic)
	post("/consensus/register/creative", consensusHandler.RegisterCreative)
	post("/consensus/register/community", consensusHandler.RegisterCommunity)
	post("/consensus/validate", consensusHandler.Validate)
	post("/admin/set-daily-limit", ledgerHandler.SetDailyLimit)
	post("/admin/set-kyc", ledgerHandler.SetKycStatus)
	post("/admin/set-timelock", ledgerHandler.SetTimelockDelay)

	return mux
}
