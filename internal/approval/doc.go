// Package approval управляет запросами на согласование шагов
// human_approval.
//
// Tracker создаёт запросы, принимает ответы согласующих и выводит
// терминальный статус по правилу консенсуса (any, all, majority).
// Wait — опрос с фиксированным периодом: проверяет статус и срок;
// истечение срока разрешается действием on_timeout (approve, reject,
// escalate). Эскалация заменяет круг согласующих и продлевает срок,
// сохраняя уже полученные ответы.
//
// Часы и период опроса подменяются (Clock, Config.Interval), поэтому
// сроки тестируются без реального ожидания.
package approval
