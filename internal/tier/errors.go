package tier

import (
	"errors"

	"github.com/gftdcojp/storage-tiers/internal/meta"
)

var (
	ErrNoSuchSystem              = errors.New("no such system")
	ErrNoSuchTier                = errors.New("no such tier")
	ErrNoSuchTieringPolicy       = errors.New("no such tiering policy")
	ErrNoSuchPool                = errors.New("no such pool")
	ErrIllegalPoolClassification = errors.New("illegal pool classification")
	ErrInvalidPlacement          = errors.New("invalid placement")
	ErrBadRequest                = errors.New("bad request")
	ErrUnsupported               = errors.New("unsupported")
)

// Reply codes.
const (
	CodeOK                        = "OK"
	CodeNoSuchSystem              = "NO_SUCH_SYSTEM"
	CodeNoSuchTier                = "NO_SUCH_TIER"
	CodeNoSuchTieringPolicy       = "NO_SUCH_TIERING_POLICY"
	CodeNoSuchPool                = "NO_SUCH_POOL"
	CodeIllegalPoolClassification = "ILLEGAL_POOL_CLASSIFICATION"
	CodeInvalidPlacement          = "INVALID_PLACEMENT"
	CodeBadRequest                = "BAD_REQUEST"
	CodeUnsupported               = "UNSUPPORTED"
	CodeConflict                  = "CONFLICT"
	CodeInternal                  = "INTERNAL"
)

var codes = []struct {
	err  error
	code string
}{
	{ErrNoSuchSystem, CodeNoSuchSystem},
	{ErrNoSuchTier, CodeNoSuchTier},
	{ErrNoSuchTieringPolicy, CodeNoSuchTieringPolicy},
	{ErrNoSuchPool, CodeNoSuchPool},
	{ErrIllegalPoolClassification, CodeIllegalPoolClassification},
	{ErrInvalidPlacement, CodeInvalidPlacement},
	{ErrBadRequest, CodeBadRequest},
	{ErrUnsupported, CodeUnsupported},
	{meta.ErrConflict, CodeConflict},
	// a commit that hits a reference removed concurrently
	{meta.ErrNotFound, CodeConflict},
}

// Code maps err to its stable reply code.
func Code(err error) string {
	if err == nil {
		return CodeOK
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}
