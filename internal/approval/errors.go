package approval

import "errors"

// Ошибки обработки ответов согласующих.
var (
	// ErrApprovalNotFound — запрос с таким ID не существует.
	ErrApprovalNotFound = errors.New("approval request not found")

	// ErrApprovalFinished — решение уже принято, новые ответы
	// не принимаются.
	ErrApprovalFinished = errors.New("approval request already decided")

	// ErrDuplicateResponse — согласующий уже отвечал на этот запрос.
	// Статус запроса не меняется.
	ErrDuplicateResponse = errors.New("approver already responded")

	// ErrNotApprover — отвечающий не входит в текущий круг согласующих.
	ErrNotApprover = errors.New("responder is not an approver of this request")

	// ErrCommentRequired — запрос требует комментарий, а ответ пришёл
	// без него.
	ErrCommentRequired = errors.New("response requires a comment")
)
