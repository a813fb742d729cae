package model

import "fmt"

// Operation is the kind of change an update makes to an index.
type Operation uint8

const (
	// OpNone leaves the index untouched.
	OpNone Operation = iota
	// OpInsert adds the entity under the after-image.
	OpInsert
	// OpUpdate moves the entity from the before-image to the after-image.
	OpUpdate
	// OpDelete removes the entity from the before-image.
	OpDelete
)

// String returns a human-readable operation name.
func (op Operation) String() string {
	switch op {
	case OpNone:
		return "none"
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("operation(%d)", uint8(op))
	}
}

// MemberUpdate describes the change of one indexed value.
type MemberUpdate struct {
	Op     Operation `json:"op"`
	Before Key       `json:"before,omitempty"`
	After  Key       `json:"after,omitempty"`
}

// Diff classifies the transition from before to after.
func Diff(before, after Key) MemberUpdate {
	switch {
	case before.IsNull() && !after.IsNull():
		return MemberUpdate{Op: OpInsert, After: after}
	case !before.IsNull() && after.IsNull():
		return MemberUpdate{Op: OpDelete, Before: before}
	case !before.IsNull() && before != after:
		return MemberUpdate{Op: OpUpdate, Before: before, After: after}
	default:
		return MemberUpdate{Op: OpNone, Before: before, After: after}
	}
}

// IsReal reports whether the update changes the index.
func (u MemberUpdate) IsReal() bool { return u.Op != OpNone }

// NextImage returns the before-image that holds once u has been applied.
func (u MemberUpdate) NextImage(current Key) Key {
	switch u.Op {
	case OpInsert, OpUpdate:
		return u.After
	case OpDelete:
		return NullKey
	default:
		return current
	}
}

func (u MemberUpdate) String() string {
	return fmt.Sprintf("%s(%q -> %q)", u.Op, u.Before, u.After)
}

// Wrapper tags how an IndexUpdate was derived from its MemberUpdate.
type Wrapper uint8

const (
	// WrapPlain applies the update as-is and makes it visible.
	WrapPlain Wrapper = iota
	// WrapTentative applies the update but keeps it hidden from readers.
	WrapTentative
	// WrapReverseTentative undoes a (possibly tentative) update.
	WrapReverseTentative
	// WrapOverridden reclassifies an Update as its Insert or Delete half.
	WrapOverridden
)

func (w Wrapper) String() string {
	switch w {
	case WrapPlain:
		return "plain"
	case WrapTentative:
		return "tentative"
	case WrapReverseTentative:
		return "reverse-tentative"
	case WrapOverridden:
		return "overridden"
	default:
		return fmt.Sprintf("wrapper(%d)", uint8(w))
	}
}

// IndexUpdate is a MemberUpdate in the form a bucket applies it. The
// effective operation and images are materialized at construction, so
// wrappers compose (an overridden tentative update stays tentative).
type IndexUpdate struct {
	Op        Operation `json:"op"`
	Before    Key       `json:"before,omitempty"`
	After     Key       `json:"after,omitempty"`
	Tentative bool      `json:"tentative,omitempty"`
	Wrapper   Wrapper   `json:"wrapper"`
}

// Plain wraps u for direct, visible application.
func Plain(u MemberUpdate) IndexUpdate {
	return IndexUpdate{Op: u.Op, Before: u.Before, After: u.After, Wrapper: WrapPlain}
}

// AsTentative marks the update as not yet visible to readers.
func (u IndexUpdate) AsTentative() IndexUpdate {
	u.Tentative = true
	u.Wrapper = WrapTentative
	return u
}

// AsFinal clears the tentative mark, producing the confirming update.
func (u IndexUpdate) AsFinal() IndexUpdate {
	u.Tentative = false
	if u.Wrapper == WrapTentative {
		u.Wrapper = WrapPlain
	}
	return u
}

// Reverse synthesizes the inverse update: Insert and Delete swap, images
// swap, and the result is applied non-tentatively.
func (u IndexUpdate) Reverse() IndexUpdate {
	op := u.Op
	switch op {
	case OpInsert:
		op = OpDelete
	case OpDelete:
		op = OpInsert
	}
	return IndexUpdate{
		Op:      op,
		Before:  u.After,
		After:   u.Before,
		Wrapper: WrapReverseTentative,
	}
}

// Override reclassifies the update's operation. It is used to split an
// Update whose images live in different buckets into a Delete of the
// before-image and an Insert of the after-image.
func (u IndexUpdate) Override(op Operation) IndexUpdate {
	u.Op = op
	u.Wrapper = WrapOverridden
	return u
}

// Split returns the Insert and Delete halves of an Update, in the order
// they must be applied (the insert settles uniqueness first).
func (u IndexUpdate) Split() (insert, del IndexUpdate) {
	return u.Override(OpInsert), u.Override(OpDelete)
}

// IsReal reports whether the update changes the index.
func (u IndexUpdate) IsReal() bool { return u.Op != OpNone }

func (u IndexUpdate) String() string {
	return fmt.Sprintf("%s[%s,tentative=%t](%q -> %q)", u.Op, u.Wrapper, u.Tentative, u.Before, u.After)
}
