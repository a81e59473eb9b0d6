package capture

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errPermissionDenied = errors.New("permission denied")

type fakeTrack struct {
	id     string
	mu     sync.Mutex
	closed int
}

func (t *fakeTrack) ID() string { return t.id }

func (t *fakeTrack) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed++
	return nil
}

func (t *fakeTrack) NewFrameReader() FrameReader { return blankReader{} }

type blankReader struct{}

func (blankReader) Read() (image.Image, func(), error) {
	return image.NewGray(image.Rect(0, 0, 4, 4)), func() {}, nil
}

// fakeCamera answers Open from a per-profile error table.
type fakeCamera struct {
	errs     map[string]error
	attempts []string
	track    *fakeTrack
}

func (c *fakeCamera) Open(_ context.Context, p Profile) (*Session, error) {
	c.attempts = append(c.attempts, p.Name)
	if err := c.errs[p.Name]; err != nil {
		return nil, err
	}
	c.track = &fakeTrack{id: "video-" + p.Name}
	return NewSession(p, c.track), nil
}

func profiles(names ...string) []Profile {
	out := make([]Profile, 0, len(names))
	for i, n := range names {
		out = append(out, Profile{Name: n, Width: IntRange{Ideal: 4096 >> i}})
	}
	return out
}

func overconstrained() error {
	return errors.Join(errors.New("no driver"), ErrOverconstrained)
}

func TestNegotiate_FallsBackToLowRes(t *testing.T) {
	cam := &fakeCamera{errs: map[string]error{"high-res": overconstrained()}}
	n := NewNegotiator(cam, zerolog.Nop())

	sess, err := n.Negotiate(context.Background(), profiles("high-res", "low-res"))
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, "low-res", sess.Profile().Name)
	assert.Equal(t, []string{"high-res", "low-res"}, cam.attempts)
	assert.NotEmpty(t, sess.ID())
}

func TestNegotiate_StopsAtFirstSuccess(t *testing.T) {
	for n := 1; n <= 4; n++ {
		names := []string{"p0", "p1", "p2", "p3", "p4"}
		errs := map[string]error{}
		for i := 0; i < n-1; i++ {
			errs[names[i]] = overconstrained()
		}
		cam := &fakeCamera{errs: errs}
		list := profiles(names...)

		sess, err := NewNegotiator(cam, zerolog.Nop()).Negotiate(context.Background(), list)
		require.NoError(t, err)
		assert.Equal(t, list[n-1], sess.Profile(), "session must use profile %d", n)
		assert.Equal(t, names[:n], cam.attempts)
	}
}

func TestNegotiate_PermissionDeniedAborts(t *testing.T) {
	cam := &fakeCamera{errs: map[string]error{"high-res": errPermissionDenied}}

	sess, err := NewNegotiator(cam, zerolog.Nop()).Negotiate(context.Background(), profiles("high-res", "low-res"))
	require.Error(t, err)
	assert.Nil(t, sess)
	assert.Equal(t, []string{"high-res"}, cam.attempts)

	var accessErr *AccessError
	require.ErrorAs(t, err, &accessErr)
	assert.Equal(t, "high-res", accessErr.Profile)
	assert.ErrorIs(t, err, errPermissionDenied)
	assert.Contains(t, err.Error(), "camera not accessible")
}

func TestNegotiate_Exhausted(t *testing.T) {
	cam := &fakeCamera{errs: map[string]error{
		"high-res": overconstrained(),
		"low-res":  overconstrained(),
	}}

	_, err := NewNegotiator(cam, zerolog.Nop()).Negotiate(context.Background(), profiles("high-res", "low-res"))
	require.ErrorIs(t, err, ErrExhausted)
	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, []string{"high-res", "low-res"}, exhausted.Attempted)
}

func TestNegotiate_NoProfiles(t *testing.T) {
	_, err := NewNegotiator(&fakeCamera{}, zerolog.Nop()).Negotiate(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoProfiles)
}

func TestNegotiate_CancelledContext(t *testing.T) {
	cam := &fakeCamera{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewNegotiator(cam, zerolog.Nop()).Negotiate(ctx, profiles("high-res"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, cam.attempts)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, Acquired, Classify(nil))
	assert.Equal(t, Retriable, Classify(overconstrained()))
	assert.Equal(t, Fatal, Classify(errPermissionDenied))
	assert.Equal(t, Fatal, Classify(context.DeadlineExceeded))
}
