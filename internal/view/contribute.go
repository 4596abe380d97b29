package view

import "github.com/ethereum/go-ethereum/common"

const (
	contributeTimer = "contribute"

	ContributeSuccessMessage = "Thank you for contributing. Your transaction was successful."
)

// ContributeForm is the contribution form on the campaign details page.
type ContributeForm struct {
	Campaign common.Address
	// Value is the amount in ether as typed.
	Value string
	Op    Op
}

func NewContributeForm(addr common.Address) ContributeForm {
	return ContributeForm{Campaign: addr}
}

// Visible reports whether a banner is showing or a send is outstanding.
func (f ContributeForm) Visible() bool {
	return f.Op.Status != StatusIdle && f.Op.Status != ""
}

type (
	ContributeSubmitted struct{ Value string }
	ContributeDone      struct{ Err error }
	ClearContribute     struct{ Seq uint64 }
)

func (ContributeSubmitted) isMsg() {}
func (ContributeDone) isMsg()      {}
func (ClearContribute) isMsg()     {}

// SendContribute asks for Value ether to be contributed.
type SendContribute struct{ Value string }

func (SendContribute) isCmd() {}

// UpdateContribute is the contribution form reducer.
func UpdateContribute(f ContributeForm, msg Msg) (ContributeForm, []Cmd) {
	switch m := msg.(type) {
	case ContributeSubmitted:
		if f.Op.Pending() {
			return f, nil
		}
		f.Value = m.Value
		f.Op = f.Op.next(StatusPending, "")
		return f, []Cmd{Cancel{Key: contributeTimer}, SendContribute{Value: m.Value}}

	case ContributeDone:
		if !f.Op.Pending() {
			return f, nil
		}
		if m.Err != nil {
			f.Op = f.Op.next(StatusError, m.Err.Error())
		} else {
			f.Value = ""
			f.Op = f.Op.next(StatusSuccess, ContributeSuccessMessage)
		}
		return f, []Cmd{Schedule{Key: contributeTimer, After: ContributeTTL, Msg: ClearContribute{Seq: f.Op.Seq}}}

	case ClearContribute:
		if f.Op.Seq != m.Seq || f.Op.Pending() {
			return f, nil
		}
		f.Op = f.Op.next(StatusIdle, "")
		return f, nil
	}
	return f, nil
}
