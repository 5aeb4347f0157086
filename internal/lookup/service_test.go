package lookup

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/kataster/internal/cache"
	"github.com/sells-group/kataster/internal/model"
)

type call struct {
	kind model.Kind
	id   string
	pt   model.Point
}

type fakeResolver struct {
	calls []call
	res   model.Resolution
	err   error
}

func (f *fakeResolver) ByIdentifier(_ context.Context, kind model.Kind, id string) (model.Resolution, error) {
	f.calls = append(f.calls, call{kind: kind, id: id})
	return f.res, f.err
}

func (f *fakeResolver) ByPoint(_ context.Context, kind model.Kind, pt model.Point) (model.Resolution, error) {
	f.calls = append(f.calls, call{kind: kind, pt: pt})
	return f.res, f.err
}

func parcelResolution() model.Resolution {
	return model.Resolution{
		Payload:    &model.PropertyResult{ParcelID: "126301_1.0001.123", Geometry: "POINT (1 2)"},
		Confidence: model.ConfidenceFull,
	}
}

func TestByIdentifier_ValidationMakesNoCalls(t *testing.T) {
	fr := &fakeResolver{}
	s := New(fr, nil)

	for _, tc := range []struct {
		kind model.Kind
		id   string
		msg  string
	}{
		{model.KindParcel, "", "parcel_id required"},
		{model.KindParcel, "1263011", "Invalid parcel_id format"},
		{model.KindCounty, "12", "Invalid county_id format. Expected format: WWPP"},
		{model.KindRegionSearch, "  ", "query parameter required"},
	} {
		_, err := s.ByIdentifier(context.Background(), tc.kind, tc.id)
		require.Error(t, err)
		assert.True(t, errors.Is(err, model.ErrInvalidInput))
		assert.Equal(t, tc.msg, err.Error())
	}
	assert.Empty(t, fr.calls)
}

func TestByIdentifier_CachesAndReturnsVerbatim(t *testing.T) {
	fr := &fakeResolver{res: parcelResolution()}
	store := cache.NewMemory(10)
	s := New(fr, cache.NewGate(store, 0, 0))
	ctx := context.Background()

	first, err := s.ByIdentifier(ctx, model.KindParcel, "126301_1.0001.123")
	require.NoError(t, err)
	assert.False(t, first.Hit)
	assert.Equal(t, "parcel:126301_1.0001.123", first.Key)

	var out map[string]any
	require.NoError(t, json.Unmarshal(first.Body, &out))
	assert.Equal(t, "126301_1.0001.123", out["parcel_id"])

	second, err := s.ByIdentifier(ctx, model.KindParcel, "126301_1.0001.123")
	require.NoError(t, err)
	assert.True(t, second.Hit)
	assert.Equal(t, first.Body, second.Body)
	assert.Len(t, fr.calls, 1)
}

func TestByIdentifier_FailuresAreNotCached(t *testing.T) {
	fr := &fakeResolver{err: model.Fail(model.ErrNotFound, "Parcel not found", nil)}
	s := New(fr, cache.NewGate(cache.NewMemory(10), time.Hour, time.Minute))
	ctx := context.Background()

	_, err := s.ByIdentifier(ctx, model.KindParcel, "126301_1.0001.123")
	assert.True(t, model.IsNotFound(err))
	_, err = s.ByIdentifier(ctx, model.KindParcel, "126301_1.0001.123")
	assert.True(t, model.IsNotFound(err))
	assert.Len(t, fr.calls, 2)
}

func TestByIdentifier_RegionShapedSearch(t *testing.T) {
	fr := &fakeResolver{res: model.Resolution{Payload: &model.AdministrativeResult{RegionID: "126301_1.0001"}}}
	s := New(fr, nil)

	res, err := s.ByIdentifier(context.Background(), model.KindRegionSearch, "126301_1.0001")
	require.NoError(t, err)
	assert.Equal(t, model.KindRegion, res.Kind)
	assert.Equal(t, "region:126301_1.0001", res.Key)
	require.Len(t, fr.calls, 1)
	assert.Equal(t, model.KindRegion, fr.calls[0].kind)

	_, err = s.ByIdentifier(context.Background(), model.KindRegionSearch, "12_63_01.1")
	require.Error(t, err)
	assert.Equal(t, "Invalid region_id format. Expected format: WWPPGG_R.OOOO", err.Error())
}

func TestByPoint(t *testing.T) {
	fr := &fakeResolver{res: model.Resolution{Payload: &model.AdministrativeResult{Source: model.SourcePRG}, Confidence: model.ConfidenceFull}}
	s := New(fr, cache.NewGate(cache.NewMemory(10), 0, 0))

	res, err := s.ByPoint(context.Background(), model.KindCountyXY, "500000", "250000.5", "")
	require.NoError(t, err)
	assert.Equal(t, "county_xy:500000.0:250000.5:2180", res.Key)
	require.Len(t, fr.calls, 1)
	assert.Equal(t, model.Point{X: 500000, Y: 250000.5, EPSG: "2180"}, fr.calls[0].pt)

	_, err = s.ByPoint(context.Background(), model.KindCountyXY, "abc", "1", "2180")
	assert.True(t, errors.Is(err, model.ErrInvalidInput))
	_, err = s.ByPoint(context.Background(), model.KindCountyXY, "", "1", "2180")
	assert.Equal(t, "x and y coordinates required", err.Error())
	assert.Len(t, fr.calls, 1)
}

func TestKindMismatch(t *testing.T) {
	s := New(&fakeResolver{}, nil)
	_, err := s.ByPoint(context.Background(), model.KindParcel, "1", "2", "")
	assert.True(t, errors.Is(err, model.ErrInvalidInput))
	_, err = s.ByIdentifier(context.Background(), model.KindParcelXY, "x")
	assert.True(t, errors.Is(err, model.ErrInvalidInput))
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "not_found", outcome(model.Fail(model.ErrServiceNotFound, "x", nil)))
	assert.Equal(t, "upstream_error", outcome(model.Upstream("Request failed", errors.New("eof"), nil)))
	assert.Equal(t, "invalid", outcome(model.Fail(model.ErrInvalidInput, "x", nil)))
	assert.Equal(t, "error", outcome(errors.New("boom")))
}

// ctxResolver fails when its context is cancelled while it waits for release.
type ctxResolver struct {
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func (r *ctxResolver) ByIdentifier(ctx context.Context, _ model.Kind, id string) (model.Resolution, error) {
	r.once.Do(func() { close(r.started) })
	<-r.release
	if err := ctx.Err(); err != nil {
		return model.Resolution{}, model.Upstream("Request failed", err, nil)
	}
	return model.Resolution{
		Payload:    &model.PropertyResult{BuildingID: id},
		Confidence: model.ConfidenceFull,
	}, nil
}

func (r *ctxResolver) ByPoint(context.Context, model.Kind, model.Point) (model.Resolution, error) {
	return model.Resolution{}, nil
}

func TestByIdentifier_SharedResolutionSurvivesCallerDisconnect(t *testing.T) {
	r := &ctxResolver{started: make(chan struct{}), release: make(chan struct{})}
	s := New(r, cache.NewGate(cache.NewMemory(10), time.Hour, time.Minute))

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := s.ByIdentifier(leaderCtx, model.KindBuilding, "1206_b")
		leaderErr <- err
	}()
	<-r.started

	type outcome struct {
		res Result
		err error
	}
	follower := make(chan outcome, 1)
	go func() {
		res, err := s.ByIdentifier(context.Background(), model.KindBuilding, "1206_b")
		follower <- outcome{res, err}
	}()

	cancel()
	close(r.release)

	require.NoError(t, <-leaderErr)
	got := <-follower
	require.NoError(t, got.err)
	assert.Contains(t, string(got.res.Body), `"1206_b"`)
}
