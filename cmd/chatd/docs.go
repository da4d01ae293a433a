package main

// General API documentation for swaggo. Run `make swagger-gen` to generate docs.
//
// @title           chatd API
// @version         1.0
// @description     HTTP and WebSocket API for local LLM chat with NPU-first device negotiation.
//
// @contact.name   chatd maintainers
// @contact.url    https://github.com/your-org/chatd
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
