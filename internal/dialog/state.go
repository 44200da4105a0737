package dialog

import "firestige.xyz/sipzamine/internal/sipmsg"

// dialogState handles one message and returns the next state. A state
// that closes the dialog sets EndReason before returning closedState.
type dialogState interface {
	State() State
	handle(d *Dialog, msg *sipmsg.Message) dialogState
}

type provisionalState struct{}

func (s provisionalState) State() State { return Provisional }

func (s provisionalState) handle(d *Dialog, msg *sipmsg.Message) dialogState {
	if msg.IsRequest() {
		if msg.Method == "CANCEL" {
			d.cancelled = true
		}
		return s
	}

	code := msg.StatusCode
	switch {
	case answersBye(msg) && code >= 200:
		d.byeSeen = true
		d.EndReason = EndCompleted
		return closedState{}
	case !answersInitial(d, msg):
		return s
	case createsDialog(d.Method) && code > 100 && code < 300 && msg.ToTag() != "":
		d.establish(msg)
		if code >= 200 {
			d.confirmed = true
		}
		return establishedState{}
	case code >= 300:
		d.EndReason = rejectReason(d)
		return closedState{}
	case code >= 200 && !createsDialog(d.Method):
		d.EndReason = EndCompleted
		return closedState{}
	}
	return s
}

type establishedState struct{}

func (s establishedState) State() State { return Established }

func (s establishedState) handle(d *Dialog, msg *sipmsg.Message) dialogState {
	if msg.IsRequest() {
		if msg.Method == "CANCEL" {
			d.cancelled = true
		}
		return s
	}

	code := msg.StatusCode
	switch {
	case answersBye(msg) && code >= 200:
		d.byeSeen = true
		d.EndReason = EndCompleted
		return closedState{}
	case !answersInitial(d, msg):
		return s
	case code > 100 && code < 300 && msg.ToTag() != "":
		d.establish(msg)
		if code >= 200 {
			d.confirmed = true
		}
	case code >= 300 && !d.confirmed:
		d.EndReason = rejectReason(d)
		return closedState{}
	}
	return s
}

// closedState absorbs everything; reopening is decided by the correlator.
type closedState struct{}

func (s closedState) State() State { return Closed }

func (s closedState) handle(*Dialog, *sipmsg.Message) dialogState { return s }

// createsDialog reports whether a successful response to method
// establishes a dialog.
func createsDialog(method string) bool {
	switch method {
	case "INVITE", "SUBSCRIBE", "REFER":
		return true
	}
	return false
}

func answersBye(msg *sipmsg.Message) bool {
	return msg.IsResponse() && msg.CSeqMethod() == "BYE"
}

// answersInitial reports whether msg is a response to the initiating
// request of d.
func answersInitial(d *Dialog, msg *sipmsg.Message) bool {
	num, method, ok := msg.CSeq()
	if !ok || method != d.Method {
		return false
	}
	return d.initialCSeq == 0 || num == d.initialCSeq
}

func rejectReason(d *Dialog) EndReason {
	if d.cancelled {
		return EndCancelled
	}
	return EndRejected
}
