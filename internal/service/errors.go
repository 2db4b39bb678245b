package service

import "errors"

// 业务错误
var (
	// ErrBOMReadOnly 作废的BOM不可修改
	ErrBOMReadOnly = errors.New("bom is obsolete and read-only")
	// ErrInvalidTransition 当前状态不允许该操作
	ErrInvalidTransition = errors.New("status transition not allowed")
	// ErrSequenceAllocation BOM编号分配失败（重试用尽）
	ErrSequenceAllocation = errors.New("bom number allocation failed")
	// ErrInvalidHeader 表头字段不合法
	ErrInvalidHeader = errors.New("invalid bom header")
	// ErrInvalidSpreadsheet 导入文件无法解析
	ErrInvalidSpreadsheet = errors.New("invalid spreadsheet")
)
