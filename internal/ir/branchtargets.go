// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package ir

// BranchTargets maps a branch label to the scope expression it targets
// (a block, loop, if, try, or try_table carrying that Label), and
// records every break/switch expression that sends a value to a given
// label.
type BranchTargets struct {
	targets map[string]*Expression
	senders map[string][]*Expression
}

// BuildBranchTargets walks body once and indexes every named scope and
// every break/switch that references one.
func BuildBranchTargets(body *Expression) *BranchTargets {
	bt := &BranchTargets{
		targets: make(map[string]*Expression),
		senders: make(map[string][]*Expression),
	}
	bt.walk(body)
	return bt
}

func (bt *BranchTargets) walk(e *Expression) {
	if e == nil {
		return
	}
	switch e.Kind {
	case KindBlock, KindLoop, KindIf, KindTry, KindTryTable:
		if e.Label != "" {
			bt.targets[e.Label] = e
		}
	case KindBreak:
		if e.Label != "" {
			bt.senders[e.Label] = append(bt.senders[e.Label], e)
		}
	case KindSwitch:
		for _, l := range e.SwitchLabels {
			bt.senders[l] = append(bt.senders[l], e)
		}
	}
	for _, c := range e.Children {
		bt.walk(c)
	}
}

// TargetOf returns the scope expression a label refers to, or nil.
func (bt *BranchTargets) TargetOf(label string) *Expression {
	return bt.targets[label]
}

// SendersTo returns every break/switch expression that may send a
// value to label.
func (bt *BranchTargets) SendersTo(label string) []*Expression {
	return bt.senders[label]
}

// SendsValue reports whether a break/switch expression e carries a
// value to at least one of its labels (as opposed to a bare branch).
func SendsValue(e *Expression) bool {
	switch e.Kind {
	case KindBreak:
		return len(e.Children) > 0
	case KindSwitch:
		return len(e.Children) > 0
	default:
		return false
	}
}
