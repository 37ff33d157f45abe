package main

// General API documentation for swaggo. Run `swag init -g cmd/chred/docs.go` to generate docs.
//
// @title           chred API
// @version         1.0
// @description     HTTP API for inspecting a running context hub runtime.
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http

