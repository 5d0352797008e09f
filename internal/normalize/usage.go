package normalize

// ========================================
// Token usage
// ========================================

// TokenUsageBreakdown 单次统计。
type TokenUsageBreakdown struct {
	TotalTokens           int64 `json:"totalTokens"`
	InputTokens           int64 `json:"inputTokens"`
	CachedInputTokens     int64 `json:"cachedInputTokens"`
	OutputTokens          int64 `json:"outputTokens"`
	ReasoningOutputTokens int64 `json:"reasoningOutputTokens"`
}

// ThreadTokenUsage 线程 token 使用快照。
type ThreadTokenUsage struct {
	Total              TokenUsageBreakdown `json:"total"`
	Last               TokenUsageBreakdown `json:"last"`
	ModelContextWindow *int64              `json:"modelContextWindow"`
}

// NormalizeTokenUsage 逐字段规范化 token 使用量。
// 同一对象内 camelCase 与 snake_case 可混用, camelCase 有效时优先。
func NormalizeTokenUsage(raw map[string]any) ThreadTokenUsage {
	usage := ThreadTokenUsage{
		Total: normalizeBreakdown(firstMap(raw, "total", "totalTokenUsage", "total_token_usage")),
		Last:  normalizeBreakdown(firstMap(raw, "last", "lastTokenUsage", "last_token_usage")),
	}
	if n := pickNumber(raw, "modelContextWindow", "model_context_window"); n != nil {
		w := int64(*n)
		usage.ModelContextWindow = &w
	}
	return usage
}

func normalizeBreakdown(m map[string]any) TokenUsageBreakdown {
	count := func(camel, snake string) int64 {
		if n := pickNumber(m, camel, snake); n != nil {
			return int64(*n)
		}
		return 0
	}
	return TokenUsageBreakdown{
		TotalTokens:           count("totalTokens", "total_tokens"),
		InputTokens:           count("inputTokens", "input_tokens"),
		CachedInputTokens:     count("cachedInputTokens", "cached_input_tokens"),
		OutputTokens:          count("outputTokens", "output_tokens"),
		ReasoningOutputTokens: count("reasoningOutputTokens", "reasoning_output_tokens"),
	}
}

func firstMap(m map[string]any, keys ...string) map[string]any {
	for _, key := range keys {
		if sub := AsMap(m[key]); sub != nil {
			return sub
		}
	}
	return nil
}

// ========================================
// Rate limits
// ========================================

// RateLimitWindow 单个限额窗口。ResetsAt 保留服务端原始数值。
type RateLimitWindow struct {
	UsedPercent        float64 `json:"usedPercent"`
	WindowDurationMins *int64  `json:"windowDurationMins"`
	ResetsAt           *int64  `json:"resetsAt"`
}

// CreditsSnapshot 额度信息。
type CreditsSnapshot struct {
	HasCredits bool    `json:"hasCredits"`
	Unlimited  bool    `json:"unlimited"`
	Balance    *string `json:"balance"`
}

// RateLimitSnapshot 每个 workspace 一份, 各子字段独立可空。
type RateLimitSnapshot struct {
	Primary   *RateLimitWindow `json:"primary"`
	Secondary *RateLimitWindow `json:"secondary"`
	Credits   *CreditsSnapshot `json:"credits"`
	PlanType  *string          `json:"planType"`
}

// Clone 深拷贝。
func (s *RateLimitSnapshot) Clone() *RateLimitSnapshot {
	if s == nil {
		return nil
	}
	c := &RateLimitSnapshot{
		Primary:   s.Primary.clone(),
		Secondary: s.Secondary.clone(),
		PlanType:  clonePtr(s.PlanType),
	}
	if s.Credits != nil {
		credits := *s.Credits
		credits.Balance = clonePtr(s.Credits.Balance)
		c.Credits = &credits
	}
	return c
}

func (w *RateLimitWindow) clone() *RateLimitWindow {
	if w == nil {
		return nil
	}
	return &RateLimitWindow{
		UsedPercent:        w.UsedPercent,
		WindowDurationMins: clonePtr(w.WindowDurationMins),
		ResetsAt:           clonePtr(w.ResetsAt),
	}
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// NormalizeRateLimits 规范化完整的限额快照。
func NormalizeRateLimits(raw map[string]any) RateLimitSnapshot {
	return MergeRateLimits(nil, raw)
}

// MergeRateLimits 将部分更新逐子字段深合并到 prev。
//
// 缺失或为 null 的字段保留 prev 的值; prev 不会被修改。
// 例如只带 primary.resetsAt 的更新保留 prev 的 primary.usedPercent。
func MergeRateLimits(prev *RateLimitSnapshot, raw map[string]any) RateLimitSnapshot {
	var out RateLimitSnapshot
	if prev != nil {
		out = *prev.Clone()
	}
	if raw == nil {
		return out
	}
	if m := firstMap(raw, "primary"); m != nil {
		out.Primary = mergeWindow(out.Primary, m)
	}
	if m := firstMap(raw, "secondary"); m != nil {
		out.Secondary = mergeWindow(out.Secondary, m)
	}
	if m := firstMap(raw, "credits"); m != nil {
		out.Credits = mergeCredits(out.Credits, m)
	}
	if v, ok := LookupNonNil(raw, "planType", "plan_type"); ok {
		if s := AsString(v); s != "" {
			out.PlanType = &s
		}
	}
	return out
}

func mergeWindow(prev *RateLimitWindow, m map[string]any) *RateLimitWindow {
	w := &RateLimitWindow{}
	if prev != nil {
		w = prev.clone()
	}
	if n := pickNumber(m, "usedPercent", "used_percent"); n != nil {
		w.UsedPercent = *n
	}
	if n := pickNumber(m, "windowDurationMins", "window_duration_mins"); n != nil {
		mins := int64(*n)
		w.WindowDurationMins = &mins
	} else if n := AsOptionalNumber(m["window_minutes"]); n != nil {
		mins := int64(*n)
		w.WindowDurationMins = &mins
	}
	if n := pickNumber(m, "resetsAt", "resets_at"); n != nil {
		at := int64(*n)
		w.ResetsAt = &at
	}
	return w
}

func mergeCredits(prev *CreditsSnapshot, m map[string]any) *CreditsSnapshot {
	c := &CreditsSnapshot{}
	if prev != nil {
		*c = *prev
		c.Balance = clonePtr(prev.Balance)
	}
	if v, ok := LookupNonNil(m, "hasCredits", "has_credits"); ok {
		c.HasCredits = AsBool(v)
	}
	if v, ok := LookupNonNil(m, "unlimited"); ok {
		c.Unlimited = AsBool(v)
	}
	if v, ok := LookupNonNil(m, "balance"); ok {
		b := AsString(v)
		c.Balance = &b
	}
	return c
}
