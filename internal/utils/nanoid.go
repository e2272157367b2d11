package utils

import gonanoid "github.com/matoous/go-nanoid/v2"

// IDLength длина строковых идентификаторов, совпадает с size:21 в моделях.
const IDLength = 21

// GenerateNanoID новый идентификатор для пользователей, токенов, чатов и уведомлений.
func GenerateNanoID() (string, error) {
	return gonanoid.New(IDLength)
}
