package core

import (
	"fmt"

	"github.com/eurc17/zenoh/internal/zerror"
)

// ResourceId names a resource within a session-local mapping. Zero is
// reserved to mean "no id"; non-zero ids are valid only within the session
// that registered them.
type ResourceId = ZInt

// NoResourceID is the reserved "no id" value.
const NoResourceID ResourceId = 0

// ResKey is a resource key: a full resource name, a registered id, or a
// registered id with a literal suffix. The three cases share one normalised
// representation:
//
//	rid == 0                -> Name(suffix)
//	rid != 0, suffix == ""  -> Id(rid)
//	rid != 0, suffix != ""  -> IdWithSuffix(rid, suffix)
//
// which makes the required normalisations (IdWithSuffix(0,s) == Name(s),
// IdWithSuffix(rid,"") == Id(rid)) structural rather than procedural.
type ResKey struct {
	rid    ResourceId
	suffix string
}

// KeyName returns the key for a full resource name.
func KeyName(name string) ResKey {
	return ResKey{rid: NoResourceID, suffix: name}
}

// KeyID returns the key for a registered id. Id zero is forbidden.
func KeyID(rid ResourceId) (ResKey, error) {
	if rid == NoResourceID {
		return ResKey{}, zerror.New(zerror.KindOther, "resource id 0 is reserved")
	}
	return ResKey{rid: rid}, nil
}

// KeyIDWithSuffix returns a key naming resolve(rid) + suffix, normalising
// the degenerate combinations.
func KeyIDWithSuffix(rid ResourceId, suffix string) ResKey {
	return ResKey{rid: rid, suffix: suffix}
}

// RID returns the numerical component, NoResourceID for pure names.
func (k ResKey) RID() ResourceId { return k.rid }

// Suffix returns the string component: the whole name for pure names, the
// literal suffix otherwise.
func (k ResKey) Suffix() string { return k.suffix }

// IsNumerical reports whether the key is a pure registered id.
func (k ResKey) IsNumerical() bool { return k.rid != NoResourceID && k.suffix == "" }

// IsName reports whether the key is a pure resource name.
func (k ResKey) IsName() bool { return k.rid == NoResourceID }

func (k ResKey) String() string {
	switch {
	case k.rid == NoResourceID:
		return k.suffix
	case k.suffix == "":
		return fmt.Sprintf("%d", k.rid)
	default:
		return fmt.Sprintf("%d, %s", k.rid, k.suffix)
	}
}
