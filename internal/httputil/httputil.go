// Package httputil — общие ответы HTTP-слоя оркестратора.
package httputil

import "github.com/gin-gonic/gin"

// RespondError отдаёт ошибку единым JSON-объектом {"error": ...} и
// прерывает цепочку обработчиков: после неё ничего не выполняется,
// даже если вызывающий забыл вернуть управление.
func RespondError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
