package model

// ShortenRequest представляет структуру запроса на сокращение URL.
// Поле originalUrl принимается для совместимости с прежним API.
type ShortenRequest struct {
	URL         string `json:"url"`
	OriginalURL string `json:"originalUrl"`
}

// Target возвращает адрес из любого из двух полей.
func (r ShortenRequest) Target() string {
	if r.URL != "" {
		return r.URL
	}
	return r.OriginalURL
}

// ShortenResponse содержит созданную или найденную запись. Поле result
// повторяет shortUrl для клиентов прежнего API.
type ShortenResponse struct {
	LinkResponse
	Result string `json:"result"`
}

// LinkResponse содержит запись вместе с полным коротким адресом.
type LinkResponse struct {
	*ShortLink
	ShortURL string `json:"shortUrl"`
}

// ErrorResponse описывает тело ответа с ошибкой.
type ErrorResponse struct {
	Error string `json:"error"`
}

// DeleteResponse сообщает, сколько записей удалено.
type DeleteResponse struct {
	Deleted int64 `json:"deleted"`
}
