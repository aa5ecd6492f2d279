/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package adselect picks the next ad or promo for an ad break. Campaign
// budgets are consumed in list order before falling back to a random pick
// from the pool. Budgets live only as long as one Selector.
package adselect

import (
	"math/rand"

	"github.com/friendsincode/grimnir_playout/internal/models"
)

type budget struct {
	campaignID string
	asset      models.Asset
	initial    int
	remaining  int
}

// Selector holds the per-invocation counters. Not safe for concurrent use.
type Selector struct {
	rng       *rand.Rand
	adPool    []models.Asset
	promoPool []models.Asset
	ads       []*budget
	promos    []*budget
	byID      map[string]*budget
}

// New builds a selector. Campaigns are consulted in the order given; a
// campaign whose asset is not in assets (not playable) is ignored. Bug
// campaigns are not ads and are ignored here too.
func New(campaigns []models.AdCampaign, adPool, promoPool []models.Asset, assets map[string]models.Asset, rng *rand.Rand) *Selector {
	s := &Selector{
		rng:       rng,
		adPool:    adPool,
		promoPool: promoPool,
		byID:      make(map[string]*budget, len(campaigns)),
	}

	for _, c := range campaigns {
		if c.FrequencyPerSlot <= 0 {
			continue
		}
		a, ok := assets[c.AssetID]
		if !ok || !a.Playable() || a.Length() <= 0 {
			continue
		}
		b := &budget{campaignID: c.ID, asset: a, initial: c.FrequencyPerSlot, remaining: c.FrequencyPerSlot}
		switch c.Type {
		case models.CampaignAd, "":
			s.ads = append(s.ads, b)
		case models.CampaignPromo:
			s.promos = append(s.promos, b)
		default:
			continue
		}
		s.byID[c.ID] = b
	}
	return s
}

// HasAds reports whether an ad break can be filled at all.
func (s *Selector) HasAds() bool {
	return len(s.adPool) > 0 || s.budgetLeft(s.ads)
}

// HasPromos reports whether a promo can be picked.
func (s *Selector) HasPromos() bool {
	return len(s.promoPool) > 0 || s.budgetLeft(s.promos)
}

// NextAd returns the next ad to play.
func (s *Selector) NextAd() (models.Asset, bool) {
	return s.pick(s.ads, s.adPool)
}

// NextPromo returns the next promo to play.
func (s *Selector) NextPromo() (models.Asset, bool) {
	return s.pick(s.promos, s.promoPool)
}

// Remaining returns the budget left for a campaign, or -1 if unknown.
func (s *Selector) Remaining(campaignID string) int {
	b, ok := s.byID[campaignID]
	if !ok {
		return -1
	}
	return b.remaining
}

// Initial returns the starting budget for a campaign, or -1 if unknown.
func (s *Selector) Initial(campaignID string) int {
	b, ok := s.byID[campaignID]
	if !ok {
		return -1
	}
	return b.initial
}

func (s *Selector) pick(budgets []*budget, pool []models.Asset) (models.Asset, bool) {
	for _, b := range budgets {
		if b.remaining > 0 {
			b.remaining--
			return b.asset, true
		}
	}
	if len(pool) == 0 {
		return models.Asset{}, false
	}
	return pool[s.rng.Intn(len(pool))], true
}

func (s *Selector) budgetLeft(budgets []*budget) bool {
	for _, b := range budgets {
		if b.remaining > 0 {
			return true
		}
	}
	return false
}
