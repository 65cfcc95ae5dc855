// Package plugin содержит реестр коннекторов и встроенные коннекторы.
//
// Коннектор — именованный набор операций, адресуемых шагом action
// парой plugin + operation:
//
//	{
//	    "type": "action",
//	    "action": {
//	        "plugin": "http",
//	        "operation": "get",
//	        "params": {"url": "https://api.example.com/items"}
//	    }
//	}
//
// Registry реализует интерфейс вызова плагинов движка. Параметры
// приходят с уже разрешёнными ссылками; результат операции становится
// данными шага. Retry и continue_on_error применяются движком,
// коннектор просто возвращает ошибку.
//
// # Встроенные коннекторы
//
//   - log   — запись в структурированный лог (write)
//   - email — dev-почта: send кладёт письмо в очередь и лог,
//     fetch возвращает очередь
//   - http  — запросы к внешним API (request, get, post);
//     статус >= 400 — ошибка операции, если не allow_error
//
// Продакшен-окружение регистрирует собственные коннекторы поверх
// реальных транспортов под теми же именами.
package plugin
