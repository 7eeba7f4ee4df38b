package model_test

import (
	"testing"
	"time"

	"github.com/CZERTAINLY/Mutiny/internal/model"
	"github.com/stretchr/testify/require"
)

func TestParseISODuration(t *testing.T) {
	type then struct {
		d   time.Duration
		err error
	}
	var testCases = []struct {
		scenario string
		given    string
		then     then
	}{
		{"seconds", "PT2S", then{2 * time.Second, nil}},
		{"fraction", "PT0.5S", then{500 * time.Millisecond, nil}},
		{"minutes", "PT1M30S", then{90 * time.Second, nil}},
		{"day and hour", "P1DT2H", then{26 * time.Hour, nil}},
		{"empty", "", then{0, model.ErrISOFormat}},
		{"go syntax", "2s", then{0, model.ErrISOFormat}},
		{"dangling T", "P2DT", then{0, model.ErrISOFormat}},
	}

	for _, tt := range testCases {
		t.Run(tt.scenario, func(t *testing.T) {
			d, err := model.ParseISODuration(tt.given)
			if tt.then.err != nil {
				require.ErrorIs(t, err, tt.then.err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.then.d, d)
		})
	}
}
