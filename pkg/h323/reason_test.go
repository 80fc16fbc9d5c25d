package h323

import (
	"testing"

	"github.com/arzzra/h323/pkg/h225"
	"github.com/arzzra/h323/pkg/q931"
	"github.com/stretchr/testify/assert"
)

func TestRemoteEndReason(t *testing.T) {
	tests := []struct {
		name      string
		reason    h225.ReleaseCompleteReason
		hasReason bool
		cause     q931.CauseValue
		hasCause  bool
		want      CallEndReason
	}{
		{"без причин", 0, false, 0, false, EndedByRemoteUser},
		{"нормальное завершение", 0, false, q931.CauseNormalCallClearing, true, EndedByRemoteUser},
		{"абонент занят", 0, false, q931.CauseUserBusy, true, EndedByRemoteBusy},
		{"перегрузка", 0, false, q931.CauseCongestion, true, EndedByRemoteCongestion},
		{"нет ответа", 0, false, q931.CauseNoAnswer, true, EndedByNoAnswer},
		{"номер не существует", 0, false, q931.CauseUnallocatedNumber, true, EndedByNoUser},
		{"неизвестная причина Q.931", 0, false, q931.CauseInterworking, true, EndedByQ931Cause},
		{"нет полосы", h225.ReasonNoBandwidth, true, 0, false, EndedByNoBandwidth},
		{"не зарегистрирован", h225.ReasonCalledPartyNotRegistered, true, 0, false, EndedByNoUser},
		{"отказ безопасности", h225.ReasonSecurityDenied, true, 0, false, EndedBySecurityDenial},
		{"причина H.225 важнее Cause", h225.ReasonDestinationRejection, true, q931.CauseNormalCallClearing, true, EndedByRefusal},
		{"переадресация", h225.ReasonFacilityCallDeflection, true, 0, false, EndedByCallForwarded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, remoteEndReason(tt.reason, tt.hasReason, tt.cause, tt.hasCause))
		})
	}
}

func TestCallEndReasonReleaseCodes(t *testing.T) {
	tests := []struct {
		name       string
		reason     CallEndReason
		cause      q931.CauseValue
		h225Reason h225.ReleaseCompleteReason
		hasReason  bool
	}{
		{"локальный пользователь", EndedByLocalUser, q931.CauseNormalCallClearing, 0, false},
		{"нет полосы", EndedByNoBandwidth, q931.CauseBearerNotAvailable, h225.ReasonNoBandwidth, true},
		{"занято", EndedByLocalBusy, q931.CauseUserBusy, 0, false},
		{"недоступен", EndedByUnreachable, q931.CauseNoRouteToDestination, h225.ReasonUnreachableDestination, true},
		{"без отображения", EndedByRemoteUser, q931.CauseNormalUnspecified, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.cause, tt.reason.Q931Cause())
			r, ok := tt.reason.ReleaseCompleteReason()
			assert.Equal(t, tt.hasReason, ok)
			if ok {
				assert.Equal(t, tt.h225Reason, r)
			}
		})
	}
}

func TestCallEndReasonString(t *testing.T) {
	assert.Equal(t, "EndedByRemoteUser", EndedByRemoteUser.String())
	assert.Equal(t, "EndedByInvalidConferenceID", EndedByInvalidConferenceID.String())
	assert.Equal(t, "CallEndReason(99)", CallEndReason(99).String())
}
