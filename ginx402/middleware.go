// Package ginx402 adapts the x402 server mediator to the gin framework. It is
// thin glue over the framework-independent Server.Check interceptor.
package ginx402

import (
	"net/http"

	"github.com/gin-gonic/gin"

	x402 "github.com/fastx402/x402-go"
)

const paymentKey = "x402-payment"

// Middleware enforces the server's pricing rules on gin routes.
func Middleware(srv *x402.Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		payment, rejection, err := srv.Check(c.Request)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "payment verification unavailable"})
			return
		}
		if rejection != nil {
			c.Header(x402.HeaderPaymentRequired, "true")
			c.AbortWithStatusJSON(rejection.StatusCode, rejection.Body)
			return
		}
		if payment != nil {
			c.Set(paymentKey, payment)
		}
		c.Next()
	}
}

// Payment returns the verified payment context attached by Middleware, if
// any.
func Payment(c *gin.Context) (*x402.PaymentContext, bool) {
	value, ok := c.Get(paymentKey)
	if !ok {
		return nil, false
	}
	payment, ok := value.(*x402.PaymentContext)
	return payment, ok
}
