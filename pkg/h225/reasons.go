package h225

import "fmt"

// ReleaseCompleteReason причина в RELEASE COMPLETE
type ReleaseCompleteReason int

const (
	ReasonNoBandwidth ReleaseCompleteReason = iota
	ReasonGatekeeperResources
	ReasonUnreachableDestination
	ReasonDestinationRejection
	ReasonInvalidRevision
	ReasonNoPermission
	ReasonUnreachableGatekeeper
	ReasonGatewayResources
	ReasonBadFormatAddress
	ReasonAdaptiveBusy
	ReasonInConf
	ReasonUndefined
	// расширения
	ReasonFacilityCallDeflection
	ReasonSecurityDenied
	ReasonCalledPartyNotRegistered
	ReasonCallerNotRegistered
	ReasonNewConnectionNeeded
	ReasonNonStandard
	ReasonReplaceWithConferenceInvite
	ReasonGenericData
	ReasonNeededFeatureNotSupported
	ReasonTunnelledSignallingRejected
)

const releaseReasonRoot = 12

var releaseReasonNames = [...]string{
	"noBandwidth", "gatekeeperResources", "unreachableDestination",
	"destinationRejection", "invalidRevision", "noPermission",
	"unreachableGatekeeper", "gatewayResources", "badFormatAddress",
	"adaptiveBusy", "inConf", "undefinedReason", "facilityCallDeflection",
	"securityDenied", "calledPartyNotRegistered", "callerNotRegistered",
	"newConnectionNeeded", "nonStandardReason", "replaceWithConferenceInvite",
	"genericDataReason", "neededFeatureNotSupported", "tunnelledSignallingRejected",
}

func (r ReleaseCompleteReason) String() string {
	if r >= 0 && int(r) < len(releaseReasonNames) {
		return releaseReasonNames[r]
	}
	return fmt.Sprintf("ReleaseCompleteReason(%d)", int(r))
}

// FacilityReason причина в FACILITY
type FacilityReason int

const (
	FacilityRouteCallToGatekeeper FacilityReason = iota
	FacilityCallForwarded
	FacilityRouteCallToMC
	FacilityUndefined
	// расширения
	FacilityConferenceListChoice
	FacilityStartH245
	FacilityNoH245
	FacilityNewTokens
	FacilityFeatureSetUpdate
	FacilityForwardedElements
	FacilityTransportedInformation
)

const facilityReasonRoot = 4

var facilityReasonNames = [...]string{
	"routeCallToGatekeeper", "callForwarded", "routeCallToMC", "undefinedReason",
	"conferenceListChoice", "startH245", "noH245", "newTokens",
	"featureSetUpdate", "forwardedElements", "transportedInformation",
}

func (r FacilityReason) String() string {
	if r >= 0 && int(r) < len(facilityReasonNames) {
		return facilityReasonNames[r]
	}
	return fmt.Sprintf("FacilityReason(%d)", int(r))
}
