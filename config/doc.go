// Package config 提供 CodeForge 的配置管理功能。
//
// 包含配置加载、重载、配置 API 和变更历史管理。
// 支持从文件和环境变量加载配置，
// 并提供管理端触发的运行时重载能力。
package config
