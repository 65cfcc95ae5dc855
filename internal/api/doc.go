// Package api содержит HTTP API сервер.
//
// Структура:
//   - handler.go            — Handler с DI (оркестратор, трекер, репозитории)
//   - routes.go             — регистрация маршрутов
//   - middleware.go         — middleware (logging, recovery)
//   - response.go           — унифицированные JSON-ответы и обработка ошибок
//   - dto.go                — Data Transfer Objects (request/response)
//   - workflow_handler.go   — обработчики для /workflows
//   - execution_handler.go  — обработчики для /executions
//   - approval_handler.go   — обработчики для /approvals
//   - schedule_handler.go   — обработчики для /schedules
//
// API предоставляет REST endpoints для управления workflow, их
// выполнениями, согласованиями и расписаниями.
package api
