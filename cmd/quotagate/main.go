// Package main is the entry point for quotagate.
//
//	@title						Shrinkix Quotagate API
//	@version					1.0
//	@description				Usage quotas, add-on credits and credential authorization for the Shrinkix image optimization service.
//
//	@contact.name				Shrinkix Support
//
//	@license.name				MIT
//	@license.url				https://opensource.org/licenses/MIT
//
//	@host						localhost:8080
//	@BasePath					/
//
//	@securityDefinitions.apikey	ApiKeyAuth
//	@in							header
//	@name						X-API-Key
//	@description				API key for authentication
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Bearer token authentication (format: "Bearer {api_key}")
package main

func main() {
	Execute()
}
