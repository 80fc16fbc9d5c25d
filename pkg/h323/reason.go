package h323

import (
	"fmt"

	"github.com/arzzra/h323/pkg/h225"
	"github.com/arzzra/h323/pkg/q931"
)

// CallEndReason причина завершения вызова, сообщаемая приложению
type CallEndReason int

const (
	EndedByLocalUser CallEndReason = iota
	EndedByNoAccept
	EndedByAnswerDenied
	EndedByRemoteUser
	EndedByRefusal
	EndedByNoAnswer
	EndedByCallerAbort
	EndedByTransportFail
	EndedByConnectFail
	EndedByGatekeeper
	EndedByNoUser
	EndedByNoBandwidth
	EndedByCapabilityExchange
	EndedByCallForwarded
	EndedBySecurityDenial
	EndedByLocalBusy
	EndedByLocalCongestion
	EndedByRemoteBusy
	EndedByRemoteCongestion
	EndedByUnreachable
	EndedByNoEndPoint
	EndedByTemporaryFailure
	EndedByQ931Cause
	EndedByDurationLimit
	EndedByGkAdmissionFailed
	EndedByInvalidConferenceID
)

var endReasonNames = [...]string{
	"EndedByLocalUser", "EndedByNoAccept", "EndedByAnswerDenied", "EndedByRemoteUser",
	"EndedByRefusal", "EndedByNoAnswer", "EndedByCallerAbort", "EndedByTransportFail",
	"EndedByConnectFail", "EndedByGatekeeper", "EndedByNoUser", "EndedByNoBandwidth",
	"EndedByCapabilityExchange", "EndedByCallForwarded", "EndedBySecurityDenial",
	"EndedByLocalBusy", "EndedByLocalCongestion", "EndedByRemoteBusy", "EndedByRemoteCongestion",
	"EndedByUnreachable", "EndedByNoEndPoint", "EndedByTemporaryFailure", "EndedByQ931Cause",
	"EndedByDurationLimit", "EndedByGkAdmissionFailed", "EndedByInvalidConferenceID",
}

func (r CallEndReason) String() string {
	if r >= 0 && int(r) < len(endReasonNames) {
		return endReasonNames[r]
	}
	return fmt.Sprintf("CallEndReason(%d)", int(r))
}

// releaseCode причина в исходящем RELEASE COMPLETE
type releaseCode struct {
	cause     q931.CauseValue
	reason    h225.ReleaseCompleteReason
	hasReason bool
}

var releaseCodes = map[CallEndReason]releaseCode{
	EndedByLocalUser:           {cause: q931.CauseNormalCallClearing},
	EndedByNoAccept:            {cause: q931.CauseCallRejected, reason: h225.ReasonDestinationRejection, hasReason: true},
	EndedByAnswerDenied:        {cause: q931.CauseCallRejected, reason: h225.ReasonDestinationRejection, hasReason: true},
	EndedByRefusal:             {cause: q931.CauseCallRejected, reason: h225.ReasonDestinationRejection, hasReason: true},
	EndedByNoAnswer:            {cause: q931.CauseNoAnswer},
	EndedByCallerAbort:         {cause: q931.CauseNormalCallClearing},
	EndedByTransportFail:       {cause: q931.CauseTemporaryFailure},
	EndedByConnectFail:         {cause: q931.CauseNetworkOutOfOrder},
	EndedByGatekeeper:          {cause: q931.CauseNormalUnspecified, reason: h225.ReasonGatekeeperResources, hasReason: true},
	EndedByNoUser:              {cause: q931.CauseSubscriberAbsent, reason: h225.ReasonCalledPartyNotRegistered, hasReason: true},
	EndedByNoBandwidth:         {cause: q931.CauseBearerNotAvailable, reason: h225.ReasonNoBandwidth, hasReason: true},
	EndedByCapabilityExchange:  {cause: q931.CauseIncompatibleDestination},
	EndedByCallForwarded:       {cause: q931.CauseRedirection, reason: h225.ReasonFacilityCallDeflection, hasReason: true},
	EndedBySecurityDenial:      {cause: q931.CauseCallRejected, reason: h225.ReasonSecurityDenied, hasReason: true},
	EndedByLocalBusy:           {cause: q931.CauseUserBusy},
	EndedByLocalCongestion:     {cause: q931.CauseCongestion, reason: h225.ReasonAdaptiveBusy, hasReason: true},
	EndedByUnreachable:         {cause: q931.CauseNoRouteToDestination, reason: h225.ReasonUnreachableDestination, hasReason: true},
	EndedByNoEndPoint:          {cause: q931.CauseNoRouteToDestination, reason: h225.ReasonUnreachableDestination, hasReason: true},
	EndedByTemporaryFailure:    {cause: q931.CauseTemporaryFailure},
	EndedByDurationLimit:       {cause: q931.CauseNormalCallClearing},
	EndedByGkAdmissionFailed:   {cause: q931.CauseCallRejected, reason: h225.ReasonGatekeeperResources, hasReason: true},
	EndedByInvalidConferenceID: {cause: q931.CauseInvalidCallReference},
}

func (r CallEndReason) releaseCode() releaseCode {
	if rc, ok := releaseCodes[r]; ok {
		return rc
	}
	return releaseCode{cause: q931.CauseNormalUnspecified}
}

// Q931Cause возвращает значение Cause IE для причины завершения
func (r CallEndReason) Q931Cause() q931.CauseValue {
	return r.releaseCode().cause
}

// ReleaseCompleteReason возвращает причину H.225 для причины завершения
func (r CallEndReason) ReleaseCompleteReason() (h225.ReleaseCompleteReason, bool) {
	rc := r.releaseCode()
	return rc.reason, rc.hasReason
}

// remoteEndReason определяет причину завершения по полученному RELEASE COMPLETE.
// Причина H.225 точнее Cause IE и проверяется первой.
func remoteEndReason(reason h225.ReleaseCompleteReason, hasReason bool, cause q931.CauseValue, hasCause bool) CallEndReason {
	if hasReason {
		switch reason {
		case h225.ReasonNoBandwidth:
			return EndedByNoBandwidth
		case h225.ReasonCalledPartyNotRegistered:
			return EndedByNoUser
		case h225.ReasonSecurityDenied:
			return EndedBySecurityDenial
		case h225.ReasonUnreachableDestination, h225.ReasonUnreachableGatekeeper:
			return EndedByUnreachable
		case h225.ReasonDestinationRejection, h225.ReasonNoPermission:
			return EndedByRefusal
		case h225.ReasonGatekeeperResources, h225.ReasonGatewayResources:
			return EndedByGatekeeper
		case h225.ReasonInConf:
			return EndedByRemoteBusy
		case h225.ReasonAdaptiveBusy:
			return EndedByRemoteCongestion
		case h225.ReasonFacilityCallDeflection:
			return EndedByCallForwarded
		}
	}
	if hasCause {
		switch cause {
		case q931.CauseNormalCallClearing:
			return EndedByRemoteUser
		case q931.CauseUserBusy:
			return EndedByRemoteBusy
		case q931.CauseCongestion, q931.CauseNoCircuitAvailable, q931.CauseResourceUnavailable:
			return EndedByRemoteCongestion
		case q931.CauseNoAnswer, q931.CauseNoResponse:
			return EndedByNoAnswer
		case q931.CauseSubscriberAbsent, q931.CauseUnallocatedNumber:
			return EndedByNoUser
		case q931.CauseCallRejected:
			return EndedByRefusal
		case q931.CauseNoRouteToDestination, q931.CauseDestinationOutOfOrder:
			return EndedByUnreachable
		case q931.CauseRedirection:
			return EndedByCallForwarded
		case q931.CauseTemporaryFailure, q931.CauseNetworkOutOfOrder:
			return EndedByTemporaryFailure
		case q931.CauseBearerNotAvailable:
			return EndedByNoBandwidth
		case q931.CauseIncompatibleDestination:
			return EndedByCapabilityExchange
		}
		return EndedByQ931Cause
	}
	return EndedByRemoteUser
}
