// Package config 提供沙箱执行服务的配置管理功能。
//
// 配置加载顺序为：默认值 → YAML 文件 → 环境变量（AGENTSANDBOX_ 前缀），
// 优先级依次提高。本地开发时若存在 .env 文件，会在读取环境变量之前加载。
package config
