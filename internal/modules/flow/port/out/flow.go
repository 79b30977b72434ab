package out

import "flowsync/internal/modules/flow/domain"

// Viewport converts pointer positions from screen space into flow coordinates. The
// canvas owns the transform; it may change between calls.
type Viewport interface {
	ScreenToFlow(p domain.XYPosition) domain.XYPosition
}
