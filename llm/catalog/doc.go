// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 catalog 维护模型目录：每个模型的 Provider、能力、单价与档位。

目录内容由外部发现流程通过 [Catalog.Replace] 整体原子替换；对外的
ListModels / IsAvailable / Cheapest 只返回健康 Provider 的未弃用模型。
没有任何健康 Provider 时 ListModels 为空，调用方需要报告
"no AI capacity"，不能静默降级。
*/
package catalog
