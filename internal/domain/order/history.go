package order

// AggregateHistory folds flattened history rows into one Summary per order,
// keeping the order in which orders first appear. Rows without an item
// (LEFT JOIN miss) still produce a Summary with an empty item list.
func AggregateHistory(rows []HistoryRow) []Summary {
	summaries := make([]Summary, 0)
	index := make(map[string]int)

	for _, row := range rows {
		i, ok := index[row.OrderID]
		if !ok {
			i = len(summaries)
			index[row.OrderID] = i
			summaries = append(summaries, Summary{
				ID:        row.OrderID,
				Total:     row.Total,
				Status:    row.Status,
				Address:   row.Address,
				CreatedAt: row.CreatedAt,
				Items:     []ItemView{},
			})
		}
		if row.ItemID == "" {
			continue
		}

		s := &summaries[i]
		s.Items = append(s.Items, ItemView{
			ID:        row.ItemID,
			ProductID: row.ProductID,
			Name:      row.ProductName,
			Quantity:  row.Quantity,
			Price:     row.Price,
		})
		s.ItemCount += row.Quantity
	}

	return summaries
}
