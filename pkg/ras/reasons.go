package ras

import "fmt"

func reasonName(names []string, v int, kind string) string {
	if v >= 0 && v < len(names) {
		return names[v]
	}
	return fmt.Sprintf("%s(%d)", kind, v)
}

// GatekeeperRejectReason причина GRJ
type GatekeeperRejectReason int

const (
	GRJResourceUnavailable GatekeeperRejectReason = iota
	GRJTerminalExcluded
	GRJInvalidRevision
	GRJUndefinedReason
	GRJSecurityDenial
	GRJGenericDataReason
	GRJNeededFeatureNotSupported
	GRJSecurityError
)

const grjRoot = 4

func (r GatekeeperRejectReason) String() string {
	return reasonName([]string{
		"resourceUnavailable", "terminalExcluded", "invalidRevision", "undefinedReason",
		"securityDenial", "genericDataReason", "neededFeatureNotSupported", "securityError",
	}, int(r), "GatekeeperRejectReason")
}

// RegistrationRejectReason причина RRJ
type RegistrationRejectReason int

const (
	RRJDiscoveryRequired RegistrationRejectReason = iota
	RRJInvalidRevision
	RRJInvalidCallSignalAddress
	RRJInvalidRASAddress
	RRJDuplicateAlias
	RRJInvalidTerminalType
	RRJUndefinedReason
	RRJTransportNotSupported
	RRJTransportQOSNotSupported
	RRJResourceUnavailable
	RRJInvalidAlias
	RRJSecurityDenial
	RRJFullRegistrationRequired
	RRJAdditiveRegistrationNotSupported
	RRJInvalidTerminalAliases
	RRJGenericDataReason
	RRJNeededFeatureNotSupported
	RRJSecurityError
)

const rrjRoot = 8

func (r RegistrationRejectReason) String() string {
	return reasonName([]string{
		"discoveryRequired", "invalidRevision", "invalidCallSignalAddress",
		"invalidRASAddress", "duplicateAlias", "invalidTerminalType", "undefinedReason",
		"transportNotSupported", "transportQOSNotSupported", "resourceUnavailable",
		"invalidAlias", "securityDenial", "fullRegistrationRequired",
		"additiveRegistrationNotSupported", "invalidTerminalAliases", "genericDataReason",
		"neededFeatureNotSupported", "securityError",
	}, int(r), "RegistrationRejectReason")
}

// UnregRequestReason причина URQ
type UnregRequestReason int

const (
	URQReregistrationRequired UnregRequestReason = iota
	URQTTLExpired
	URQSecurityDenial
	URQUndefinedReason
	URQMaintenance
	URQSecurityError
)

const urqReasonRoot = 4

func (r UnregRequestReason) String() string {
	return reasonName([]string{
		"reregistrationRequired", "ttlExpired", "securityDenial", "undefinedReason",
		"maintenance", "securityError",
	}, int(r), "UnregRequestReason")
}

// UnregRejectReason причина URJ
type UnregRejectReason int

const (
	URJNotCurrentlyRegistered UnregRejectReason = iota
	URJCallInProgress
	URJUndefinedReason
	URJPermissionDenied
	URJSecurityDenial
	URJSecurityError
)

const urjRoot = 3

func (r UnregRejectReason) String() string {
	return reasonName([]string{
		"notCurrentlyRegistered", "callInProgress", "undefinedReason",
		"permissionDenied", "securityDenial", "securityError",
	}, int(r), "UnregRejectReason")
}

// AdmissionRejectReason причина ARJ
type AdmissionRejectReason int

const (
	ARJCalledPartyNotRegistered AdmissionRejectReason = iota
	ARJInvalidPermission
	ARJRequestDenied
	ARJUndefinedReason
	ARJCallerNotRegistered
	ARJRouteCallToGatekeeper
	ARJInvalidEndpointIdentifier
	ARJResourceUnavailable
	ARJSecurityDenial
	ARJQOSControlNotSupported
	ARJIncompleteAddress
	ARJAliasesInconsistent
	ARJRouteCallToSCN
	ARJExceedsCallCapacity
	ARJCollectDestination
	ARJCollectPIN
	ARJGenericDataReason
	ARJNeededFeatureNotSupported
	ARJSecurityErrors
	ARJSecurityDHMismatch
	ARJNoRouteToDestination
	ARJUnallocatedNumber
)

const arjRoot = 8

func (r AdmissionRejectReason) String() string {
	return reasonName([]string{
		"calledPartyNotRegistered", "invalidPermission", "requestDenied",
		"undefinedReason", "callerNotRegistered", "routeCallToGatekeeper",
		"invalidEndpointIdentifier", "resourceUnavailable", "securityDenial",
		"qosControlNotSupported", "incompleteAddress", "aliasesInconsistent",
		"routeCallToSCN", "exceedsCallCapacity", "collectDestination", "collectPIN",
		"genericDataReason", "neededFeatureNotSupported", "securityErrors",
		"securityDHmismatch", "noRouteToDestination", "unallocatedNumber",
	}, int(r), "AdmissionRejectReason")
}

// BandRejectReason причина BRJ
type BandRejectReason int

const (
	BRJNotBound BandRejectReason = iota
	BRJInvalidConferenceID
	BRJInvalidPermission
	BRJInsufficientResources
	BRJInvalidRevision
	BRJUndefinedReason
	BRJSecurityDenial
	BRJSecurityError
)

const brjRoot = 6

func (r BandRejectReason) String() string {
	return reasonName([]string{
		"notBound", "invalidConferenceID", "invalidPermission", "insufficientResources",
		"invalidRevision", "undefinedReason", "securityDenial", "securityError",
	}, int(r), "BandRejectReason")
}

// DisengageRejectReason причина DRJ
type DisengageRejectReason int

const (
	DRJNotRegistered DisengageRejectReason = iota
	DRJRequestToDropOther
	DRJSecurityDenial
	DRJSecurityError
)

const drjRoot = 2

func (r DisengageRejectReason) String() string {
	return reasonName([]string{
		"notRegistered", "requestToDropOther", "securityDenial", "securityError",
	}, int(r), "DisengageRejectReason")
}

// LocationRejectReason причина LRJ
type LocationRejectReason int

const (
	LRJNotRegistered LocationRejectReason = iota
	LRJInvalidPermission
	LRJRequestDenied
	LRJUndefinedReason
	LRJSecurityDenial
	LRJAliasesInconsistent
	LRJRouteCallToSCN
	LRJResourceUnavailable
	LRJGenericDataReason
	LRJNeededFeatureNotSupported
	LRJHopCountExceeded
	LRJIncompleteAddress
	LRJSecurityError
	LRJSecurityDHMismatch
	LRJNoRouteToDestination
	LRJUnallocatedNumber
)

const lrjRoot = 4

func (r LocationRejectReason) String() string {
	return reasonName([]string{
		"notRegistered", "invalidPermission", "requestDenied", "undefinedReason",
		"securityDenial", "aliasesInconsistent", "routeCalltoSCN", "resourceUnavailable",
		"genericDataReason", "neededFeatureNotSupported", "hopCountExceeded",
		"incompleteAddress", "securityError", "securityDHmismatch",
		"noRouteToDestination", "unallocatedNumber",
	}, int(r), "LocationRejectReason")
}

// InfoRequestNakReason причина INAK
type InfoRequestNakReason int

const (
	INAKNotRegistered InfoRequestNakReason = iota
	INAKSecurityDenial
	INAKUndefinedReason
	INAKSecurityError
)

const inakRoot = 3

func (r InfoRequestNakReason) String() string {
	return reasonName([]string{
		"notRegistered", "securityDenial", "undefinedReason", "securityError",
	}, int(r), "InfoRequestNakReason")
}

// RejectReason возвращает текстовую причину отказа для reject-сообщений
// и пустую строку для остальных
func RejectReason(m Message) string {
	switch r := m.(type) {
	case *GRJ:
		return r.Reason.String()
	case *RRJ:
		return r.Reason.String()
	case *URJ:
		return r.Reason.String()
	case *ARJ:
		return r.Reason.String()
	case *BRJ:
		return r.Reason.String()
	case *DRJ:
		return r.Reason.String()
	case *LRJ:
		return r.Reason.String()
	case *INAK:
		return r.Reason.String()
	}
	return ""
}
