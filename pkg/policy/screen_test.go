package policy_test

import (
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statsgallery/sponsorship/pkg/policy"
	"github.com/statsgallery/sponsorship/pkg/sponsorship"
)

func validSubmission() sponsorship.Submission {
	return sponsorship.Submission{
		Submitter:   "alice",
		Description: "Sponsor the stats dashboard",
		Tag:         "gold",
		Deposit:     500,
	}
}

func TestScreenAdmitsValidSubmission(t *testing.T) {
	screen, err := policy.NewScreen()
	require.NoError(t, err)
	assert.NoError(t, screen.VetSubmission(context.Background(), validSubmission()))
}

func TestScreenSystemRules(t *testing.T) {
	screen, err := policy.NewScreen()
	require.NoError(t, err)
	ctx := context.Background()

	blank := validSubmission()
	blank.Description = "   "
	assert.ErrorIs(t, screen.VetSubmission(ctx, blank), policy.ErrScreenRejected)

	badTag := validSubmission()
	badTag.Tag = "Gold Tier!"
	assert.ErrorIs(t, screen.VetSubmission(ctx, badTag), policy.ErrScreenRejected)

	free := validSubmission()
	free.Deposit = 0
	assert.ErrorIs(t, screen.VetSubmission(ctx, free), policy.ErrScreenRejected)
}

func TestScreenOperatorRules(t *testing.T) {
	screen, err := policy.NewScreen(`submission.deposit >= 500`)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, screen.VetSubmission(ctx, validSubmission()))

	cheap := validSubmission()
	cheap.Deposit = 499
	err = screen.VetSubmission(ctx, cheap)
	assert.ErrorIs(t, err, policy.ErrScreenRejected)
	assert.True(t, strings.Contains(err.Error(), "submission.deposit >= 500"), "error should name the rule: %v", err)
}

func TestScreenTimeRule(t *testing.T) {
	cutoff := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	screen, err := policy.NewScreen(`now < ` + strconv.FormatInt(cutoff.Unix(), 10))
	require.NoError(t, err)

	screen.WithClock(func() time.Time { return cutoff.Add(-time.Hour) })
	require.NoError(t, screen.VetSubmission(context.Background(), validSubmission()))

	screen.WithClock(func() time.Time { return cutoff.Add(time.Hour) })
	assert.ErrorIs(t, screen.VetSubmission(context.Background(), validSubmission()), policy.ErrScreenRejected)
}

func TestScreenBadRuleSurfacesError(t *testing.T) {
	screen, err := policy.NewScreen(`this is not CEL at all`)
	require.NoError(t, err)

	err = screen.VetSubmission(context.Background(), validSubmission())
	require.Error(t, err)
	assert.NotErrorIs(t, err, policy.ErrScreenRejected)
	assert.Contains(t, err.Error(), "compile")
}

func TestScreenRepeatedEvaluations(t *testing.T) {
	screen, err := policy.NewScreen(`submission.tag in ["gold", "silver"]`)
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, screen.VetSubmission(ctx, validSubmission()))
	}
	bronze := validSubmission()
	bronze.Tag = "bronze"
	assert.ErrorIs(t, screen.VetSubmission(ctx, bronze), policy.ErrScreenRejected)
}
