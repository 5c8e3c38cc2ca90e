package domain

var Tables = []interface{}{
	&InteractionLog{},
}
