// Package engine содержит ядро выполнения workflow.
//
// Включает:
//   - context.go     — ExecutionContext: входы, результаты шагов, слоистые переменные
//   - resolver.go    — разрешение ссылок "{{step1.data.items}}"
//   - interpolate.go — подстановка ссылок внутри строковых литералов
//   - expr.go        — вычисление выражений ("{{a.count}} > 3 && {{b}}")
//   - graph.go       — граф зависимостей и волны готовых шагов
//   - validate.go    — валидация определения workflow
//
// Engine отвечает за понимание структуры workflow, разрешение данных
// между шагами и определение порядка выполнения на основе зависимостей.
package engine
