package dialog

import "fmt"

// Key identifies a dialog. It is either a ProvisionalKey or an
// EstablishedKey; no other implementations exist.
type Key interface {
	fmt.Stringer
	isKey()
}

// ProvisionalKey identifies a dialog before a tagged response was seen.
type ProvisionalKey struct {
	CallID string
}

// EstablishedKey identifies a dialog by Call-ID and both tags. LocalTag is
// the From tag of the initiating request.
type EstablishedKey struct {
	CallID    string
	LocalTag  string
	RemoteTag string
}

func (ProvisionalKey) isKey() {}
func (EstablishedKey) isKey() {}

func (k ProvisionalKey) String() string {
	return k.CallID
}

func (k EstablishedKey) String() string {
	return fmt.Sprintf("%s;local=%s;remote=%s", k.CallID, k.LocalTag, k.RemoteTag)
}

// CallIDOf returns the Call-ID of any key.
func CallIDOf(k Key) string {
	switch k := k.(type) {
	case ProvisionalKey:
		return k.CallID
	case EstablishedKey:
		return k.CallID
	default:
		panic(fmt.Sprintf("dialog: unknown key type %T", k))
	}
}
