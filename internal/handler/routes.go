package handler

import "github.com/gin-gonic/gin"

// Routes are the browser facing identity endpoints
type Routes struct {
	Auth    *AuthHandler
	OAuth   *OAuthHandler
	Cookies CookieConfig
	// Limit guards credential and callback endpoints; nil disables it
	Limit gin.HandlerFunc
}

// RegisterRoutes mounts the identity endpoints on router
func RegisterRoutes(router gin.IRouter, r Routes) {
	limited := func(h gin.HandlerFunc) []gin.HandlerFunc {
		if r.Limit == nil {
			return []gin.HandlerFunc{h}
		}
		return []gin.HandlerFunc{r.Limit, h}
	}

	router.GET("/", r.Auth.Home)
	router.GET("/login", r.Auth.LoginPage)
	router.POST("/login", limited(r.Auth.Login)...)
	router.GET("/signup", r.Auth.LoginPage)
	router.POST("/signup", limited(r.Auth.Signup)...)
	router.GET("/logout", r.Auth.Logout)
	router.GET("/api/current_user", r.Auth.CurrentUser)

	auth := router.Group("/auth")
	{
		auth.GET("/:provider", r.OAuth.Begin)
		auth.GET("/:provider/callback", limited(r.OAuth.Callback)...)
	}

	account := router.Group("/account", RequireAuth(r.Cookies))
	{
		account.GET("", r.Auth.Account)
		account.POST("/profile", r.Auth.UpdateProfile)
		account.POST("/password", r.Auth.UpdatePassword)
		account.POST("/delete", r.Auth.DeleteAccount)
		account.GET("/unlink/:provider", r.Auth.Unlink)
	}
}
