package app

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"nft-sniper-bot/internal/chain"
	"nft-sniper-bot/internal/events"
	"nft-sniper-bot/internal/opensea"

	"go.uber.org/zap"
)

type listingSource interface {
	Subscribe(slug string)
	Run(ctx context.Context, handler func(opensea.Listing)) error
}

// startListingWatch follows marketplace listings and records the ones
// on the watch-list in the event log.
func (a *App) startListingWatch(ctx context.Context) {
	if a.listings == nil {
		return
	}
	a.listings.Subscribe("")
	go func() {
		err := a.listings.Run(ctx, a.onListing)
		switch {
		case err == nil, errors.Is(err, context.Canceled):
		case errors.Is(err, opensea.ErrMissingAPIKey):
			a.log.Warn("listing stream disabled: OPENSEA_API_KEY not set")
		default:
			a.log.Warn("listing stream stopped", zap.Error(err))
		}
	}()
}

func (a *App) onListing(l opensea.Listing) {
	s := a.runtime.Snapshot()
	if l.Chain != opensea.ChainName(s.Chain) || !watched(s.Contracts, l.Contract) {
		return
	}
	note := fmt.Sprintf("listed token %s", l.TokenID)
	if wei, ok := new(big.Int).SetString(l.BasePrice, 10); ok {
		note = fmt.Sprintf("listed token %s at %.6f %s", l.TokenID, chain.WeiToNative(wei), s.Symbol())
	}
	a.log.Debug("watched listing", zap.String("contract", l.Contract), zap.String("token_id", l.TokenID))
	a.events.Emit(events.Event{
		Status:   events.StatusWaiting,
		Contract: l.Contract,
		Action:   "listing",
		Note:     note,
		Symbol:   s.Symbol(),
	})
}

func watched(contracts []string, contract string) bool {
	for _, c := range contracts {
		if strings.EqualFold(strings.TrimSpace(c), contract) {
			return true
		}
	}
	return false
}
