// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的指标采集能力，覆盖 HTTP 入口层与
脚本执行内核两大维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
自动注册机制，避免手动管理 Registry。所有指标按 namespace 隔离，
支持多维度 label 分组，便于 Grafana 等工具进行可视化与告警。

# 核心类型

  - Collector：指标收集器，持有 Counter、Histogram 等
    Prometheus 向量指标，按业务域分组管理。

# 主要能力

  - HTTP 指标：请求总数、请求耗时、请求/响应体大小，
    按 method/path/status 分组，状态码归类为 2xx/3xx/4xx/5xx。
  - 执行指标：按结果（ok/timeout/memory_exceeded/runtime_error/
    validation_failed）分组的执行总数、耗时与采样内存增量。
  - 校验指标：静态校验结果（ok/missing_entry/dangerous_construct）计数。
  - 工具调用指标：沙箱内 http.get/http.post/json.decode/json.encode
    调用总数与耗时，按 tool/outcome 分组。
*/
package metrics
