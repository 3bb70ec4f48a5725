package models

import (
	"fmt"
	"strings"
)

// ShippingStatus is the lifecycle state of a shipping order.
// Only forward transitions are legal: PENDING -> SHIPPED -> DELIVERED.
type ShippingStatus string

const (
	StatusPending   ShippingStatus = "PENDING"
	StatusShipped   ShippingStatus = "SHIPPED"
	StatusDelivered ShippingStatus = "DELIVERED"
)

// Default label of the tracking event written on carrier hand-off.
const StatusLabelInTransit = "in transit"

var statusRank = map[ShippingStatus]int{
	StatusPending:   0,
	StatusShipped:   1,
	StatusDelivered: 2,
}

var transitions = map[ShippingStatus]ShippingStatus{
	StatusPending: StatusShipped,
	StatusShipped: StatusDelivered,
}

// Carrier labels understood by the reconciliation path. Keys are lower-case.
var carrierLabels = map[string]ShippingStatus{
	"pending":          StatusPending,
	"shipped":          StatusShipped,
	"in transit":       StatusShipped,
	"in_transit":       StatusShipped,
	"picked up":        StatusShipped,
	"out for delivery": StatusShipped,
	"delivered":        StatusDelivered,
}

// ParseShippingStatus accepts only the canonical labels.
func ParseShippingStatus(s string) (ShippingStatus, error) {
	st := ShippingStatus(s)
	if _, ok := statusRank[st]; !ok {
		return "", fmt.Errorf("unknown shipping status %q", s)
	}
	return st, nil
}

// NormalizeReportedStatus maps a carrier-reported label onto the lifecycle.
// Canonical labels are accepted as is; anything outside the table is rejected.
func NormalizeReportedStatus(label string) (ShippingStatus, error) {
	if st, err := ParseShippingStatus(label); err == nil {
		return st, nil
	}
	if st, ok := carrierLabels[strings.ToLower(strings.TrimSpace(label))]; ok {
		return st, nil
	}
	return "", fmt.Errorf("unrecognized carrier status %q", label)
}

func (s ShippingStatus) String() string { return string(s) }

func (s ShippingStatus) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// Terminal reports whether no transition leaves s.
func (s ShippingStatus) Terminal() bool {
	_, ok := transitions[s]
	return s.Valid() && !ok
}

// Compare returns -1, 0 or 1 depending on lifecycle order.
func (s ShippingStatus) Compare(other ShippingStatus) int {
	a, b := statusRank[s], statusRank[other]
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// CanTransition reports whether from -> to is a legal single step.
func CanTransition(from, to ShippingStatus) bool {
	next, ok := transitions[from]
	return ok && next == to
}
