// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bootloader

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSimPlatform_HistoryIsBounded(t *testing.T) {
	p := NewSimPlatform()
	for i := 0; i < 10*historyLimit; i++ {
		p.Indicate(Indicator(i % 8))
	}
	p.Indicate(IndicateRun)

	h := p.History()
	assert.Len(t, h, historyLimit)
	assert.Equal(t, IndicateRun, h[len(h)-1])
	assert.Equal(t, IndicateRun, p.Current())
}

func TestSimPlatform_OnIndicate(t *testing.T) {
	p := NewSimPlatform()
	var seen []Indicator
	p.OnIndicate = func(i Indicator) { seen = append(seen, i) }

	p.Indicate(IndicateStart)
	p.Indicate(IndicateRunApplication)
	assert.Equal(t, []Indicator{IndicateStart, IndicateRunApplication}, seen)
}
