package approval

import (
	"time"

	"github.com/shaiso/conveyor/internal/domain"
)

// resolveConsensus пересчитывает статус запроса по правилу консенсуса
// над ответами текущего круга согласующих. Вызывается после каждого
// ответа и после эскалации (сохранённые ответы пересчитываются против
// нового круга). Возвращает true, если статус стал терминальным.
func resolveConsensus(r *domain.ApprovalRequest, now time.Time) bool {
	switch r.ApprovalType {
	case domain.ApprovalAll:
		return resolveAll(r, now)
	case domain.ApprovalMajority:
		return resolveMajority(r, now)
	default:
		return resolveAny(r, now)
	}
}

// resolveAny — решает первый ответивший любым решением.
// При нескольких сохранённых ответах (после эскалации) побеждает
// самый ранний по времени.
func resolveAny(r *domain.ApprovalRequest, now time.Time) bool {
	first := r.First()
	if first == nil {
		return false
	}
	if first.Decision == domain.DecisionApprove {
		r.MarkApproved(now)
	} else {
		r.MarkRejected(now)
	}
	return true
}

// resolveAll — одобрение требует согласия каждого из текущего круга;
// одно отклонение отклоняет запрос сразу.
func resolveAll(r *domain.ApprovalRequest, now time.Time) bool {
	approvals, rejections := r.Counts()
	if rejections > 0 {
		r.MarkRejected(now)
		return true
	}
	if len(r.Approvers) > 0 && approvals == len(r.Approvers) {
		r.MarkApproved(now)
		return true
	}
	return false
}

// resolveMajority — одобрение, когда одобрений больше половины круга;
// отклонение, как только большинство стало недостижимо.
func resolveMajority(r *domain.ApprovalRequest, now time.Time) bool {
	n := len(r.Approvers)
	if n == 0 {
		return false
	}
	approvals, rejections := r.Counts()
	if approvals*2 > n {
		r.MarkApproved(now)
		return true
	}
	// Даже если все оставшиеся одобрят, большинства не будет
	if (n-rejections)*2 <= n {
		r.MarkRejected(now)
		return true
	}
	return false
}
