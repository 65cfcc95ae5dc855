// Package orchestrator управляет жизненным циклом выполнений workflow.
//
// Orchestrator отвечает за:
//   - Валидацию определения и входов, построение DAG
//   - Планирование волн: независимые готовые шаги идут параллельно,
//     маршрутизаторы и согласования — строго последовательно
//   - Ветвление, условия шагов и каскад пропусков
//   - Паузу на human_approval и возобновление по решению
//   - Снимки состояния после каждого шага и восстановление с них
//   - Финализацию выполнения (completed/failed) и обработчик on_failure
//
// Orchestrator — "мозг" системы: он единственный переводит выполнение
// между статусами и единственный пишет в контекст выполнения.
package orchestrator
