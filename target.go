package turnstile

import "context"

// Target is the SDK surface that released commands ultimately invoke. An
// implementation is bound to each category at registration time; the lane
// guarantees its methods are called in strict sequence order, one at a time.
//
// Errors returned by target methods are logged and journalled but never
// block the sequence: the lane's counter advances regardless of outcome.
type Target interface {
	StartSession(ctx context.Context, p Params) error
	StopSession(ctx context.Context, p Params) error
	TrackEvent(ctx context.Context, p Params) error
	SetAttribution(ctx context.Context, p Params) error
	ForgetUser(ctx context.Context, p Params) error
}
