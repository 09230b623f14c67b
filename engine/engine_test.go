package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gavelnet/gavel/custody"
	"github.com/gavelnet/gavel/ledger"
)

type fixture struct {
	t    *testing.T
	lg   *ledger.Ledger
	cust *custody.MockCustodian
	eng  *Engine
	now  time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		t:    t,
		lg:   ledger.NewLedger(),
		cust: custody.NewMockCustodian(),
		now:  time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC),
	}
	f.eng = New(f.lg, f.cust, WithClock(func() time.Time { return f.now }))
	require.NoError(t, f.eng.Bootstrap("ops"))
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

// settings: 1h duration, 10m soft close, increment 5, 10% facilitator fee.
func (f *fixture) settings() Settings {
	f.t.Helper()
	s, err := f.eng.CreateSettings("ops", time.Hour, 10*time.Minute, 5, 100_000_000)
	require.NoError(f.t, err)
	return s
}

func (f *fixture) fund(party ledger.Party, amount uint64) ledger.AccountID {
	return f.lg.CreateAccount(party, amount)
}

func (f *fixture) start(settings SettingsID, starter ledger.Party, amount uint64) (Auction, ledger.AccountID) {
	f.t.Helper()
	payment := f.fund(starter, amount)
	auction, err := f.eng.Start(context.Background(), StartRequest{
		Vault:          "vault-1",
		Settings:       settings,
		Starter:        starter,
		PaymentAccount: payment,
		Amount:         amount,
	})
	require.NoError(f.t, err)
	return auction, payment
}

func (f *fixture) treasuryBalance(a Auction) uint64 {
	f.t.Helper()
	bal, err := f.lg.Balance(a.Treasury)
	require.NoError(f.t, err)
	return bal
}

func TestBootstrapOnce(t *testing.T) {
	f := newFixture(t)
	err := f.eng.Bootstrap("someone-else")
	require.ErrorIs(t, err, ErrAlreadyInitialized)

	auth, err := f.eng.Authority()
	require.NoError(t, err)
	assert.Equal(t, ledger.Party("ops"), auth.Owner)
}

func TestSetOwner(t *testing.T) {
	f := newFixture(t)

	err := f.eng.SetOwner("mallory", "mallory")
	require.ErrorIs(t, err, ErrNotAuthority)

	require.NoError(t, f.eng.SetOwner("ops", "ops-2"))
	auth, err := f.eng.Authority()
	require.NoError(t, err)
	assert.Equal(t, ledger.Party("ops-2"), auth.Owner)
}

func TestCreateSettingsAuthorityOnly(t *testing.T) {
	f := newFixture(t)

	_, err := f.eng.CreateSettings("mallory", time.Hour, 0, 1, 0)
	require.ErrorIs(t, err, ErrNotAuthority)

	_, err = f.eng.CreateSettings("ops", time.Hour, 0, 1, MaxFacilitatorFeeRate+1)
	require.ErrorIs(t, err, ErrInvalidFacilitatorFee)

	s, err := f.eng.CreateSettings("ops", time.Hour, 0, 1, MaxFacilitatorFeeRate)
	require.NoError(t, err)

	got, err := f.eng.GetSettings(s.ID)
	require.NoError(t, err)
	assert.Equal(t, s, got)
}

func TestStart(t *testing.T) {
	f := newFixture(t)
	s := f.settings()

	auction, payment := f.start(s.ID, "alice", 100)

	assert.Equal(t, DeriveAuctionID("vault-1"), auction.ID)
	assert.Equal(t, StateStarted, auction.State)
	assert.Equal(t, ledger.Party("alice"), auction.TopBidder)
	assert.Equal(t, uint64(100), auction.TopAmount)
	assert.Equal(t, f.now.Add(time.Hour), auction.EndTime)
	assert.Equal(t, uint64(1), auction.Version)
	assert.Equal(t, 1, f.cust.CombineCalls)

	// The starter's full amount is escrowed in the treasury.
	assert.Equal(t, uint64(100), f.treasuryBalance(auction))
	bal, err := f.lg.Balance(payment)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), bal)

	// The starter has a live bid with an empty escrow.
	bid, err := f.eng.GetBid(auction.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(100), bid.Amount)
	escrowBal, err := f.lg.Balance(bid.Escrow)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), escrowBal)
}

func TestStartTwiceRejected(t *testing.T) {
	f := newFixture(t)
	s := f.settings()
	f.start(s.ID, "alice", 100)

	payment := f.fund("bob", 200)
	_, err := f.eng.Start(context.Background(), StartRequest{
		Vault:          "vault-1",
		Settings:       s.ID,
		Starter:        "bob",
		PaymentAccount: payment,
		Amount:         200,
	})
	require.ErrorIs(t, err, ErrAlreadyStarted)
	assert.Equal(t, 1, f.cust.CombineCalls)
}

func TestStartValidation(t *testing.T) {
	f := newFixture(t)
	s := f.settings()
	payment := f.fund("alice", 50)

	_, err := f.eng.Start(context.Background(), StartRequest{
		Vault: "vault-1", Settings: s.ID, Starter: "alice", PaymentAccount: payment, Amount: 0,
	})
	require.ErrorIs(t, err, ErrBidTooLow)

	_, err = f.eng.Start(context.Background(), StartRequest{
		Vault: "vault-1", Settings: s.ID, Starter: "alice", PaymentAccount: payment, Amount: 100,
	})
	require.ErrorIs(t, err, ErrInsufficientFunds)

	_, err = f.eng.Start(context.Background(), StartRequest{
		Vault: "vault-1", Settings: s.ID, Starter: "bob", PaymentAccount: payment, Amount: 10,
	})
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = f.eng.Start(context.Background(), StartRequest{
		Vault: "vault-1", Settings: "missing", Starter: "alice", PaymentAccount: payment, Amount: 10,
	})
	require.ErrorIs(t, err, ErrSettingsNotFound)

	// None of the rejections touched the custodian.
	assert.Equal(t, 0, f.cust.CombineCalls)
}

func TestPlaceBidOutbids(t *testing.T) {
	f := newFixture(t)
	s := f.settings()
	auction, _ := f.start(s.ID, "alice", 100)

	bobPayment := f.fund("bob", 150)
	updated, err := f.eng.PlaceBid(context.Background(), PlaceBidRequest{
		Auction:        auction.ID,
		Bidder:         "bob",
		PaymentAccount: bobPayment,
		Amount:         150,
	})
	require.NoError(t, err)

	assert.Equal(t, ledger.Party("bob"), updated.TopBidder)
	assert.Equal(t, uint64(150), updated.TopAmount)
	assert.Equal(t, auction.Version+1, updated.Version)

	// Treasury holds exactly the top amount.
	assert.Equal(t, uint64(150), f.treasuryBalance(updated))

	// Alice's full stake moved to her escrow.
	aliceBid, err := f.eng.GetBid(auction.ID, "alice")
	require.NoError(t, err)
	escrowBal, err := f.lg.Balance(aliceBid.Escrow)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), escrowBal)
	assert.Equal(t, uint64(100), aliceBid.Amount)
}

func TestPlaceBidIncrementRule(t *testing.T) {
	f := newFixture(t)
	s := f.settings() // increment 5
	auction, _ := f.start(s.ID, "alice", 100)

	bobPayment := f.fund("bob", 1000)
	for _, amount := range []uint64{99, 100, 104} {
		_, err := f.eng.PlaceBid(context.Background(), PlaceBidRequest{
			Auction: auction.ID, Bidder: "bob", PaymentAccount: bobPayment, Amount: amount,
		})
		require.ErrorIs(t, err, ErrBidTooLow, "amount %d", amount)
	}

	_, err := f.eng.PlaceBid(context.Background(), PlaceBidRequest{
		Auction: auction.ID, Bidder: "bob", PaymentAccount: bobPayment, Amount: 105,
	})
	require.NoError(t, err)
}

func TestPlaceBidVersionConflict(t *testing.T) {
	f := newFixture(t)
	s := f.settings()
	auction, _ := f.start(s.ID, "alice", 100)

	bobPayment := f.fund("bob", 200)
	_, err := f.eng.PlaceBid(context.Background(), PlaceBidRequest{
		Auction: auction.ID, Bidder: "bob", PaymentAccount: bobPayment, Amount: 150,
	})
	require.NoError(t, err)

	// Carol bids against the state she saw before bob's bid landed.
	carolPayment := f.fund("carol", 200)
	_, err = f.eng.PlaceBid(context.Background(), PlaceBidRequest{
		Auction: auction.ID, Bidder: "carol", PaymentAccount: carolPayment,
		Amount: 160, ObservedVersion: auction.Version,
	})
	require.ErrorIs(t, err, ErrVersionConflict)

	// With fresh state the same bid goes through.
	fresh, err := f.eng.GetAuction(auction.ID)
	require.NoError(t, err)
	_, err = f.eng.PlaceBid(context.Background(), PlaceBidRequest{
		Auction: auction.ID, Bidder: "carol", PaymentAccount: carolPayment,
		Amount: 160, ObservedVersion: fresh.Version,
	})
	require.NoError(t, err)
}

func TestPlaceBidWhileHoldingLiveBid(t *testing.T) {
	f := newFixture(t)
	s := f.settings()
	auction, _ := f.start(s.ID, "alice", 100)

	bobPayment := f.fund("bob", 1000)
	_, err := f.eng.PlaceBid(context.Background(), PlaceBidRequest{
		Auction: auction.ID, Bidder: "bob", PaymentAccount: bobPayment, Amount: 150,
	})
	require.NoError(t, err)

	carolPayment := f.fund("carol", 1000)
	_, err = f.eng.PlaceBid(context.Background(), PlaceBidRequest{
		Auction: auction.ID, Bidder: "carol", PaymentAccount: carolPayment, Amount: 200,
	})
	require.NoError(t, err)

	// Bob was outbid but must withdraw before bidding again.
	_, err = f.eng.PlaceBid(context.Background(), PlaceBidRequest{
		Auction: auction.ID, Bidder: "bob", PaymentAccount: bobPayment, Amount: 300,
	})
	require.ErrorIs(t, err, ErrBidAlreadyExists)

	bobDest := f.fund("bob", 0)
	refund, err := f.eng.WithdrawBid(context.Background(), WithdrawBidRequest{
		Auction: auction.ID, Bidder: "bob", Destination: bobDest,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(150), refund)

	_, err = f.eng.PlaceBid(context.Background(), PlaceBidRequest{
		Auction: auction.ID, Bidder: "bob", PaymentAccount: bobDest, Amount: 300,
	})
	require.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestPlaceBidAfterEndTime(t *testing.T) {
	f := newFixture(t)
	s := f.settings()
	auction, _ := f.start(s.ID, "alice", 100)

	f.advance(time.Hour)
	bobPayment := f.fund("bob", 200)
	_, err := f.eng.PlaceBid(context.Background(), PlaceBidRequest{
		Auction: auction.ID, Bidder: "bob", PaymentAccount: bobPayment, Amount: 150,
	})
	require.ErrorIs(t, err, ErrAuctionEnded)
}

func TestSoftCloseExtendsEndTime(t *testing.T) {
	f := newFixture(t)
	s := f.settings() // 1h duration, 10m soft close
	auction, _ := f.start(s.ID, "alice", 100)
	originalEnd := auction.EndTime

	// A bid in the middle of the auction does not move the end time.
	f.advance(30 * time.Minute)
	bobPayment := f.fund("bob", 1000)
	updated, err := f.eng.PlaceBid(context.Background(), PlaceBidRequest{
		Auction: auction.ID, Bidder: "bob", PaymentAccount: bobPayment, Amount: 150,
	})
	require.NoError(t, err)
	assert.Equal(t, originalEnd, updated.EndTime)

	// A bid 5 minutes before the end re-arms a full 10 minute window.
	f.advance(25 * time.Minute)
	carolPayment := f.fund("carol", 1000)
	updated, err = f.eng.PlaceBid(context.Background(), PlaceBidRequest{
		Auction: auction.ID, Bidder: "carol", PaymentAccount: carolPayment, Amount: 200,
	})
	require.NoError(t, err)
	assert.Equal(t, f.now.Add(10*time.Minute), updated.EndTime)
	assert.True(t, updated.EndTime.After(originalEnd))
}

func TestEndTimeNeverDecreases(t *testing.T) {
	f := newFixture(t)
	s := f.settings()

	// A pathological policy proposing an earlier end time is clamped.
	f.eng.softClose = func(now, endTime time.Time, period time.Duration) time.Time {
		return endTime.Add(-time.Hour)
	}

	auction, _ := f.start(s.ID, "alice", 100)
	bobPayment := f.fund("bob", 1000)
	updated, err := f.eng.PlaceBid(context.Background(), PlaceBidRequest{
		Auction: auction.ID, Bidder: "bob", PaymentAccount: bobPayment, Amount: 150,
	})
	require.NoError(t, err)
	assert.Equal(t, auction.EndTime, updated.EndTime)
}

func TestWithdrawBid(t *testing.T) {
	f := newFixture(t)
	s := f.settings()
	auction, _ := f.start(s.ID, "alice", 100)

	bobPayment := f.fund("bob", 150)
	_, err := f.eng.PlaceBid(context.Background(), PlaceBidRequest{
		Auction: auction.ID, Bidder: "bob", PaymentAccount: bobPayment, Amount: 150,
	})
	require.NoError(t, err)

	// The top bid cannot be withdrawn.
	bobDest := f.fund("bob", 0)
	_, err = f.eng.WithdrawBid(context.Background(), WithdrawBidRequest{
		Auction: auction.ID, Bidder: "bob", Destination: bobDest,
	})
	require.ErrorIs(t, err, ErrTopBidNotWithdrawable)

	// The destination must belong to the bidder.
	_, err = f.eng.WithdrawBid(context.Background(), WithdrawBidRequest{
		Auction: auction.ID, Bidder: "alice", Destination: bobDest,
	})
	require.ErrorIs(t, err, ErrUnauthorized)

	// Program-controlled accounts cannot receive refunds either.
	_, err = f.eng.WithdrawBid(context.Background(), WithdrawBidRequest{
		Auction: auction.ID, Bidder: "alice", Destination: auction.Treasury,
	})
	require.ErrorIs(t, err, ErrUnauthorized)

	aliceDest := f.fund("alice", 0)
	refund, err := f.eng.WithdrawBid(context.Background(), WithdrawBidRequest{
		Auction: auction.ID, Bidder: "alice", Destination: aliceDest,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(100), refund)

	bal, err := f.lg.Balance(aliceDest)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), bal)

	// The bid record is retired.
	_, err = f.eng.GetBid(auction.ID, "alice")
	require.ErrorIs(t, err, ErrBidNotFound)
	_, err = f.eng.WithdrawBid(context.Background(), WithdrawBidRequest{
		Auction: auction.ID, Bidder: "alice", Destination: aliceDest,
	})
	require.ErrorIs(t, err, ErrBidNotFound)
}

func TestEnd(t *testing.T) {
	f := newFixture(t)
	s := f.settings() // 10% fee
	auction, _ := f.start(s.ID, "alice", 100)

	feeDest := f.fund("ops", 0)

	// Too early.
	f.advance(30 * time.Minute)
	_, err := f.eng.End(context.Background(), EndRequest{
		Auction: auction.ID, Caller: "ops", FeeDestination: feeDest,
	})
	require.ErrorIs(t, err, ErrNotYetEndable)

	f.advance(30 * time.Minute)

	// Only the authority can end.
	_, err = f.eng.End(context.Background(), EndRequest{
		Auction: auction.ID, Caller: "alice", FeeDestination: feeDest,
	})
	require.ErrorIs(t, err, ErrNotAuthority)

	// The fee destination must belong to the authority.
	aliceDest := f.fund("alice", 0)
	_, err = f.eng.End(context.Background(), EndRequest{
		Auction: auction.ID, Caller: "ops", FeeDestination: aliceDest,
	})
	require.ErrorIs(t, err, ErrUnauthorized)

	fee, err := f.eng.End(context.Background(), EndRequest{
		Auction: auction.ID, Caller: "ops", FeeDestination: feeDest,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(10), fee) // floor(100 * 10%)

	ended, err := f.eng.GetAuction(auction.ID)
	require.NoError(t, err)
	assert.Equal(t, StateEnded, ended.State)
	assert.Equal(t, uint64(90), f.treasuryBalance(ended))

	// Ending twice fails.
	_, err = f.eng.End(context.Background(), EndRequest{
		Auction: auction.ID, Caller: "ops", FeeDestination: feeDest,
	})
	require.ErrorIs(t, err, ErrAuctionEnded)
}

func TestEndFeeFloors(t *testing.T) {
	f := newFixture(t)
	// Fee rate of 1/3 expressed against the 1e9 denominator.
	s, err := f.eng.CreateSettings("ops", time.Hour, 0, 1, 333_333_333)
	require.NoError(t, err)
	auction, _ := f.start(s.ID, "alice", 100)

	f.advance(time.Hour)
	feeDest := f.fund("ops", 0)
	fee, err := f.eng.End(context.Background(), EndRequest{
		Auction: auction.ID, Caller: "ops", FeeDestination: feeDest,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(33), fee) // floor(100 * 333333333 / 1e9)
}

func TestClaim(t *testing.T) {
	f := newFixture(t)
	s := f.settings()
	auction, _ := f.start(s.ID, "alice", 100)

	// Claiming before the auction ends fails.
	err := f.eng.Claim(context.Background(), ClaimRequest{
		Auction: auction.ID, Caller: "alice", Destination: "alice-wallet",
	})
	require.ErrorIs(t, err, ErrAuctionNotEnded)

	f.advance(time.Hour)
	feeDest := f.fund("ops", 0)
	_, err = f.eng.End(context.Background(), EndRequest{
		Auction: auction.ID, Caller: "ops", FeeDestination: feeDest,
	})
	require.NoError(t, err)

	// Only the winner can claim.
	err = f.eng.Claim(context.Background(), ClaimRequest{
		Auction: auction.ID, Caller: "bob", Destination: "bob-wallet",
	})
	require.ErrorIs(t, err, ErrNotWinner)

	require.NoError(t, f.eng.Claim(context.Background(), ClaimRequest{
		Auction: auction.ID, Caller: "alice", Destination: "alice-wallet",
	}))
	assert.Equal(t, 1, f.cust.DeliverCalls)
	assert.Equal(t, "alice-wallet", f.cust.LastDestination)

	// Exactly once.
	err = f.eng.Claim(context.Background(), ClaimRequest{
		Auction: auction.ID, Caller: "alice", Destination: "alice-wallet",
	})
	require.ErrorIs(t, err, ErrAlreadyClaimed)
	assert.Equal(t, 1, f.cust.DeliverCalls)
}

func TestRedeem(t *testing.T) {
	f := newFixture(t)
	s, err := f.eng.CreateSettings("ops", time.Hour, 0, 1, 0) // no fee
	require.NoError(t, err)
	auction, _ := f.start(s.ID, "alice", 1000)

	// Holder owns 25 of 100 fraction units; the reserve pays out 50.
	f.cust.FractionClaimFunc = func(ctx context.Context, vault custody.VaultID, holder ledger.Party) (uint64, uint64, error) {
		if holder == "holder" {
			return 25, 100, nil
		}
		return 0, 100, nil
	}
	f.cust.RedeemReserveFunc = func(ctx context.Context, vault custody.VaultID, holder ledger.Party, destination ledger.AccountID) (uint64, error) {
		return 50, nil
	}

	dest := f.fund("holder", 0)

	// Redeeming before the auction ends fails.
	_, err = f.eng.Redeem(context.Background(), RedeemRequest{
		Auction: auction.ID, Caller: "holder", Destination: dest,
	})
	require.ErrorIs(t, err, ErrAuctionNotEnded)

	f.advance(time.Hour)
	feeDest := f.fund("ops", 0)
	_, err = f.eng.End(context.Background(), EndRequest{
		Auction: auction.ID, Caller: "ops", FeeDestination: feeDest,
	})
	require.NoError(t, err)

	redemption, err := f.eng.Redeem(context.Background(), RedeemRequest{
		Auction: auction.ID, Caller: "holder", Destination: dest,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(250), redemption.FromTreasury) // 25% of 1000
	assert.Equal(t, uint64(50), redemption.FromReserve)
	assert.Equal(t, uint64(300), redemption.Total())

	bal, err := f.lg.Balance(dest)
	require.NoError(t, err)
	assert.Equal(t, uint64(250), bal) // mock reserve leg does not touch the ledger

	// A party with no claim has nothing to redeem.
	strangerDest := f.fund("stranger", 0)
	_, err = f.eng.Redeem(context.Background(), RedeemRequest{
		Auction: auction.ID, Caller: "stranger", Destination: strangerDest,
	})
	require.ErrorIs(t, err, ErrNothingToRedeem)
}

func TestStartEnforcesReserveFloor(t *testing.T) {
	f := newFixture(t)
	s := f.settings() // 10% fee
	f.cust.ReserveQuoteFunc = func(ctx context.Context, vault custody.VaultID) (uint64, error) {
		return 100, nil
	}
	f.cust.CombineFunc = func(ctx context.Context, vault custody.VaultID, authority ledger.Party, payment ledger.AccountID, payer ledger.Party) (uint64, error) {
		return 100, nil
	}

	// floor = 100 * 1e9 / (1e9 - 1e8) = 111: the post-fee top bid must still
	// cover the reserve.
	payment := f.fund("alice", 1000)
	_, err := f.eng.Start(context.Background(), StartRequest{
		Vault: "vault-1", Settings: s.ID, Starter: "alice", PaymentAccount: payment, Amount: 110,
	})
	require.ErrorIs(t, err, ErrBidTooLow)
	assert.Equal(t, 0, f.cust.CombineCalls)

	// The starter pays the reserve on top of the escrowed bid, so 111 in the
	// payment account is not enough for a 111 bid.
	short := f.fund("bob", 111)
	_, err = f.eng.Start(context.Background(), StartRequest{
		Vault: "vault-1", Settings: s.ID, Starter: "bob", PaymentAccount: short, Amount: 111,
	})
	require.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, 0, f.cust.CombineCalls)

	auction, err := f.eng.Start(context.Background(), StartRequest{
		Vault: "vault-1", Settings: s.ID, Starter: "alice", PaymentAccount: payment, Amount: 111,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(111), auction.TopAmount)
	assert.Equal(t, uint64(100), auction.ReservePrice)
	assert.Equal(t, 1, f.cust.CombineCalls)
	assert.Equal(t, uint64(111), f.treasuryBalance(auction))
}

func TestRedeemDestinationValidated(t *testing.T) {
	f := newFixture(t)
	s, err := f.eng.CreateSettings("ops", time.Hour, 0, 1, 0)
	require.NoError(t, err)
	auction, _ := f.start(s.ID, "alice", 1000)

	f.cust.FractionClaimFunc = func(ctx context.Context, vault custody.VaultID, holder ledger.Party) (uint64, uint64, error) {
		return 25, 100, nil
	}

	f.advance(time.Hour)
	feeDest := f.fund("ops", 0)
	_, err = f.eng.End(context.Background(), EndRequest{
		Auction: auction.ID, Caller: "ops", FeeDestination: feeDest,
	})
	require.NoError(t, err)

	// A destination the caller does not own is rejected before the claim is
	// touched.
	bobDest := f.fund("bob", 0)
	_, err = f.eng.Redeem(context.Background(), RedeemRequest{
		Auction: auction.ID, Caller: "holder", Destination: bobDest,
	})
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, 0, f.cust.RedeemCalls)

	// So is a program-controlled account, the treasury included: a payout
	// there would be stranded and the transfer after the reserve leg would
	// fail with the claim already retired.
	_, err = f.eng.Redeem(context.Background(), RedeemRequest{
		Auction: auction.ID, Caller: "holder", Destination: auction.Treasury,
	})
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, 0, f.cust.RedeemCalls)

	dest := f.fund("holder", 0)
	redemption, err := f.eng.Redeem(context.Background(), RedeemRequest{
		Auction: auction.ID, Caller: "holder", Destination: dest,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(250), redemption.FromTreasury)
	assert.Equal(t, 1, f.cust.RedeemCalls)
}

// TestLifecycleWithTokenVault runs start, end and redeem against the real
// vault custodian instead of the mock, covering the reserve draw and the
// claim-preserving redeem rejection end to end.
func TestLifecycleWithTokenVault(t *testing.T) {
	lg := ledger.NewLedger()
	vault := custody.NewTokenVault(lg, custody.FixedPriceSource{Price: 100, Combinable: true})
	now := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	eng := New(lg, vault, WithClock(func() time.Time { return now }))
	require.NoError(t, eng.Bootstrap("ops"))
	s, err := eng.CreateSettings("ops", time.Hour, 0, 1, 0) // no fee
	require.NoError(t, err)

	vaultID := vault.CreateVault("ops", map[ledger.Party]uint64{
		"holder-a": 60,
		"holder-b": 40,
	})

	payment := lg.CreateAccount("alice", 350)
	auction, err := eng.Start(context.Background(), StartRequest{
		Vault: vaultID, Settings: s.ID, Starter: "alice", PaymentAccount: payment, Amount: 250,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(100), auction.ReservePrice)

	// 250 escrowed in the treasury, 100 drawn into the vault's reserve.
	bal, err := lg.Balance(payment)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), bal)
	reserve, err := vault.ReserveBalance(vaultID)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), reserve)

	now = now.Add(2 * time.Hour)
	feeDest := lg.CreateAccount("ops", 0)
	_, err = eng.End(context.Background(), EndRequest{
		Auction: auction.ID, Caller: "ops", FeeDestination: feeDest,
	})
	require.NoError(t, err)

	// Redeeming into the treasury is rejected and leaves the fractional
	// claim and the reserve untouched.
	_, err = eng.Redeem(context.Background(), RedeemRequest{
		Auction: auction.ID, Caller: "holder-a", Destination: auction.Treasury,
	})
	require.ErrorIs(t, err, ErrUnauthorized)
	units, supply, err := vault.FractionClaim(context.Background(), vaultID, "holder-a")
	require.NoError(t, err)
	assert.Equal(t, uint64(60), units)
	assert.Equal(t, uint64(100), supply)
	reserve, err = vault.ReserveBalance(vaultID)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), reserve)

	// A proper redeem pays the proportional share of both legs.
	dest := lg.CreateAccount("holder-a", 0)
	redemption, err := eng.Redeem(context.Background(), RedeemRequest{
		Auction: auction.ID, Caller: "holder-a", Destination: dest,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(150), redemption.FromTreasury) // 60% of 250
	assert.Equal(t, uint64(60), redemption.FromReserve)   // 60% of 100
	bal, err = lg.Balance(dest)
	require.NoError(t, err)
	assert.Equal(t, uint64(210), bal)
}

func TestEscrowControllersDistinct(t *testing.T) {
	id := DeriveAuctionID("vault-1")
	other := DeriveAuctionID("vault-2")

	assert.NotEqual(t, deriveEscrowController(id, "alice"), deriveEscrowController(id, "bob"))
	assert.NotEqual(t, deriveEscrowController(id, "alice"), deriveEscrowController(other, "alice"))
	assert.NotEqual(t, deriveEscrowController(id, "alice"), deriveTreasuryController(id))
}

// TestMoneyConservation drives a full auction and checks that every unit that
// entered the system is accounted for at the end.
func TestMoneyConservation(t *testing.T) {
	f := newFixture(t)
	s := f.settings() // 10% fee
	auction, _ := f.start(s.ID, "alice", 100)

	bobPayment := f.fund("bob", 180)
	_, err := f.eng.PlaceBid(context.Background(), PlaceBidRequest{
		Auction: auction.ID, Bidder: "bob", PaymentAccount: bobPayment, Amount: 180,
	})
	require.NoError(t, err)

	aliceDest := f.fund("alice", 0)
	refund, err := f.eng.WithdrawBid(context.Background(), WithdrawBidRequest{
		Auction: auction.ID, Bidder: "alice", Destination: aliceDest,
	})
	require.NoError(t, err)
	require.Equal(t, uint64(100), refund)

	f.advance(2 * time.Hour)
	feeDest := f.fund("ops", 0)
	fee, err := f.eng.End(context.Background(), EndRequest{
		Auction: auction.ID, Caller: "ops", FeeDestination: feeDest,
	})
	require.NoError(t, err)
	require.Equal(t, uint64(18), fee)

	ended, err := f.eng.GetAuction(auction.ID)
	require.NoError(t, err)

	// alice got her 100 back, ops got 18, the treasury holds the rest.
	assert.Equal(t, uint64(162), f.treasuryBalance(ended))
	aliceBal, _ := f.lg.Balance(aliceDest)
	feeBal, _ := f.lg.Balance(feeDest)
	assert.Equal(t, uint64(100+180), aliceBal+feeBal+f.treasuryBalance(ended))
}

func TestRestore(t *testing.T) {
	f := newFixture(t)
	s := f.settings()
	auction, _ := f.start(s.ID, "alice", 100)
	bid, err := f.eng.GetBid(auction.ID, "alice")
	require.NoError(t, err)

	// A fresh engine over the same ledger resumes where the old one stopped.
	restored := New(f.lg, f.cust, WithClock(func() time.Time { return f.now }))
	restored.Restore(&Authority{Owner: "ops"}, []Settings{s}, []Auction{auction}, []Bid{bid})

	got, err := restored.GetAuction(auction.ID)
	require.NoError(t, err)
	assert.Equal(t, auction, got)

	bobPayment := f.fund("bob", 200)
	updated, err := restored.PlaceBid(context.Background(), PlaceBidRequest{
		Auction: auction.ID, Bidder: "bob", PaymentAccount: bobPayment, Amount: 150,
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.Party("bob"), updated.TopBidder)
}

func TestEventsPublished(t *testing.T) {
	f := newFixture(t)
	var events []Event
	f.eng.sink = sinkFunc(func(ev Event) { events = append(events, ev) })

	s := f.settings()
	auction, _ := f.start(s.ID, "alice", 100)

	bobPayment := f.fund("bob", 150)
	_, err := f.eng.PlaceBid(context.Background(), PlaceBidRequest{
		Auction: auction.ID, Bidder: "bob", PaymentAccount: bobPayment, Amount: 150,
	})
	require.NoError(t, err)

	f.advance(2 * time.Hour)
	feeDest := f.fund("ops", 0)
	_, err = f.eng.End(context.Background(), EndRequest{
		Auction: auction.ID, Caller: "ops", FeeDestination: feeDest,
	})
	require.NoError(t, err)

	require.Len(t, events, 3)
	assert.Equal(t, EventAuctionStarted, events[0].Type)
	assert.Equal(t, EventBidPlaced, events[1].Type)
	assert.Equal(t, EventAuctionEnded, events[2].Type)
}

type sinkFunc func(Event)

func (f sinkFunc) Publish(ev Event) { f(ev) }
