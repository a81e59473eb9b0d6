package capture

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/jenojiji/pion-examples/qrscan/internal/metrics"
)

// Camera is the platform's camera-access capability. Open must wrap
// ErrOverconstrained when no device satisfies the profile so the
// negotiator can fall back; any other error aborts negotiation.
type Camera interface {
	Open(ctx context.Context, p Profile) (*Session, error)
}

// Negotiator walks a profile list against a Camera.
type Negotiator struct {
	camera Camera
	logger zerolog.Logger
}

func NewNegotiator(camera Camera, logger zerolog.Logger) *Negotiator {
	return &Negotiator{camera: camera, logger: logger}
}

type attempt struct {
	outcome Outcome
	session *Session
	err     error
}

func (n *Negotiator) try(ctx context.Context, p Profile) attempt {
	if err := ctx.Err(); err != nil {
		return attempt{outcome: Fatal, err: err}
	}
	sess, err := n.camera.Open(ctx, p)
	outcome := Classify(err)
	if outcome == Acquired && sess == nil {
		outcome, err = Fatal, ErrNoVideoTrack
	}
	return attempt{outcome: outcome, session: sess, err: err}
}

// Negotiate tries profiles strictly in order. It returns the first session
// acquired, an *AccessError on the first non-retriable failure, or an
// *ExhaustedError when every profile was overconstrained.
func (n *Negotiator) Negotiate(ctx context.Context, profiles []Profile) (*Session, error) {
	if len(profiles) == 0 {
		return nil, ErrNoProfiles
	}

	tried := make([]string, 0, len(profiles))
	for _, p := range profiles {
		tried = append(tried, p.Name)
		res := n.try(ctx, p)
		metrics.IncNegotiationAttempt(p.Name, res.outcome.String())

		switch res.outcome {
		case Acquired:
			n.logger.Info().
				Str("profile", p.Name).
				Str("session_id", res.session.ID()).
				Int("tracks", len(res.session.Tracks())).
				Msg("camera acquired")
			return res.session, nil
		case Retriable:
			n.logger.Debug().Err(res.err).Str("profile", p.Name).Msg("profile overconstrained, trying next")
		case Fatal:
			n.logger.Warn().Err(res.err).Str("profile", p.Name).Msg("camera access failed")
			return nil, &AccessError{Profile: p.Name, Err: res.err}
		}
	}

	n.logger.Warn().Strs("profiles", tried).Msg("no profile could be satisfied")
	return nil, &ExhaustedError{Attempted: tried}
}
