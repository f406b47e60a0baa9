package core

var categories = map[TransactionType][]string{
	Revenue: {"Frete", "Transporte de Carga", "Serviços Especiais", "Outros"},
	Expense: {"Combustível", "Manutenção", "Pedágio", "Seguro", "IPVA", "Multas", "Alimentação", "Hospedagem", "Outros"},
}

// Categories returns a copy of the vocabulary for the given transaction type.
func Categories(t TransactionType) []string {
	src := categories[t]
	out := make([]string, len(src))
	copy(out, src)
	return out
}

func ValidCategory(t TransactionType, category string) bool {
	for _, c := range categories[t] {
		if c == category {
			return true
		}
	}
	return false
}
