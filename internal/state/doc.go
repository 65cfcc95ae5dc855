// Package state сохраняет и восстанавливает состояние выполнений.
//
// На одно выполнение хранится ровно один снимок (domain.Checkpoint),
// перезаписываемый на месте после каждого терминального перехода шага
// и при каждой паузе/возобновлении. Снимок содержит статус, входы,
// результаты шагов, переменные, множества завершённых/упавших/
// пропущенных шагов, границу планирования и ожидаемый approval.
//
// Store — интерфейс хранилища; MemoryStore держит снимки в памяти
// (тесты и dev-режим), боевое хранилище — repo.CheckpointRepo на
// Postgres. Manager собирает снимок из ExecutionContext и Progress
// и восстанавливает контекст через engine.RestoreContext.
package state
