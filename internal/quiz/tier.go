package quiz

type Tier int

const (
	TierKeepLearning Tier = iota
	TierGood
	TierGreat
	TierPerfect
)

func TierFor(percentage int) Tier {
	switch {
	case percentage >= 100:
		return TierPerfect
	case percentage >= 80:
		return TierGreat
	case percentage >= 60:
		return TierGood
	}
	return TierKeepLearning
}

func (t Tier) Message() string {
	switch t {
	case TierPerfect:
		return "🌟 Отличный результат! Вы знаток Минска!"
	case TierGreat:
		return "👏 Отличная работа!"
	case TierGood:
		return "👍 Хороший результат!"
	}
	return "💪 Продолжайте изучать Минск!"
}
