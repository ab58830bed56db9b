// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 router 提供复杂度分类与只降不升的智能路由。

# 复杂度分类

ClassifyComplexity 对最近一条用户消息做加性打分：寒暄整句直接判为
simple；含围栏代码块或图片直接判为 complex；其余按长度、历史轮数、
代码/技术关键词、内容生成句式、问号数量累加。得分 ≤ -1 为 simple，
≥ 2 为 complex，其余为 medium。没有用户消息时默认 medium。

# 路由

Router.Route 只在请求模型所属 Provider 内、同一能力下挑选更便宜的
模型，且档位不低于复杂度目标档位（simple→1，medium→2，complex→3）、
不高于请求模型档位。请求模型不可用时回退到目录中最便宜的模型；
目录为空时返回 MODEL_UNAVAILABLE。
*/
package router
