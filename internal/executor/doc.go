// Package executor выполняет отдельные шаги workflow.
//
// Включает:
//   - runner.go      — Runner: выбор executor'а, таймаут, retry, запись результата
//   - registry.go    — реестр executor'ов по типу шага
//   - action.go      — вызов операций плагинов
//   - routing.go     — conditional, switch и decision
//   - transform.go   — чистые операции над массивами (map/filter/sort/group/reduce/dedupe)
//   - delay.go       — пауза одного шага
//   - loop.go        — последовательный проход по массиву
//   - parallel.go    — одновременное выполнение вложенных шагов
//   - scatter.go     — fan-out по элементам массива и fan-in агрегация
//   - subworkflow.go — запуск вложенного workflow
//
// Runner решает только судьбу одного шага. Порядок шагов, ветвление,
// пропуски и паузы на human_approval — зона оркестратора.
package executor
