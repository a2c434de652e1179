package template

// builtin holds the texts used when the settings document has none.
var builtin = map[string]string{
	"defaultMessage": "مرحباً {customerName}، فاتورتك رقم #{invoiceId} جاهزة بمبلغ {amount} {currency}. يمكنك تحميلها من: {invoiceLink}",

	"repairReceivedMessage": "جهازك وصل Fix Zone يا فندم\n\n" +
		"ده ملخص الطلب:\n" +
		"• رقم الطلب: {repairNumber}\n" +
		"• الجهاز: {deviceInfo}\n" +
		"• المشكلة: {problem}{oldInvoiceNumber}\n\n" +
		"تقدر تشوف التحديثات أول بأول من هنا:\n{trackingUrl}\n\n" +
		"فريق الفنيين هيبدأ الفحص خلال الساعات القادمة.",

	"diagnosisCompleteMessage": "مرحباً {customerName}\n\n" +
		"تم الانتهاء من فحص جهازك {deviceInfo} (طلب {repairNumber}).\n" +
		"• التشخيص: {diagnosis}\n" +
		"• التكلفة المتوقعة: {estimatedCost}\n\n" +
		"تابع الطلب من هنا: {trackingUrl}",

	"awaitingApprovalMessage": "مرحباً {customerName}\n\n" +
		"طلب الإصلاح {repairNumber} في انتظار موافقتك على التكلفة: {estimatedCost}\n" +
		"من فضلك راجع التفاصيل ووافق من هنا: {trackingUrl}",

	"underRepairMessage": "مرحباً {customerName}\n\n" +
		"جهازك {deviceInfo} دخل مرحلة الإصلاح الآن (طلب {repairNumber}).\n" +
		"هنبلغك أول ما يخلص. المتابعة: {trackingUrl}",

	"waitingPartsMessage": "مرحباً {customerName}\n\n" +
		"طلب الإصلاح {repairNumber} في انتظار وصول قطع الغيار.\n" +
		"هنكمل الشغل فور وصولها. المتابعة: {trackingUrl}",

	"readyPickupMessage": "مرحباً {customerName}\n\n" +
		"جهازك {deviceInfo} جاهز للاستلام (طلب {repairNumber}).\n" +
		"العنوان: {location}\n" +
		"المتابعة: {trackingUrl}",

	"repairCompletedMessage": "مرحباً {customerName}\n\n" +
		"تم الانتهاء من إصلاح جهازك {deviceInfo} (طلب {repairNumber}) وهو جاهز للتوصيل.\n" +
		"المتابعة: {trackingUrl}",

	"deliveredMessage": "مرحباً {customerName}\n\n" +
		"تم تسليم جهازك {deviceInfo} (طلب {repairNumber}).\n" +
		"شكراً لثقتك في Fix Zone.",

	"completedMessage": "مرحباً {customerName}\n\n" +
		"تم إغلاق طلب الإصلاح {repairNumber} بنجاح. شكراً لثقتك في Fix Zone.",

	"rejectedMessage": "مرحباً {customerName}\n\n" +
		"نأسف، تم رفض طلب الإصلاح {repairNumber}.\n" +
		"السبب: {rejectionReason}\n" +
		"للاستفسار تواصل معنا.",

	"onHoldMessage": "مرحباً {customerName}\n\n" +
		"طلب الإصلاح {repairNumber} متوقف مؤقتاً.\n" +
		"السبب: {holdReason}\n" +
		"المتابعة: {trackingUrl}",

	"quotationDefaultMessage": "مرحباً {customerName}، عرض السعر رقم #{quotationId} لطلب {repairNumber} جاهز بمبلغ {totalAmount}. " +
		"العرض صالح حتى {validUntil}. التفاصيل: {quotationLink}",

	"quotationApprovedMessage": "مرحباً {customerName}، تم اعتماد عرض السعر رقم #{quotationId} بمبلغ {totalAmount}. " +
		"هنبدأ الشغل فوراً. التفاصيل: {quotationLink}",

	"paymentOverdueReminder": "مرحباً {customerName}\n\n" +
		"نذكرك بأن الفاتورة رقم #{invoiceId} تجاوزت تاريخ الاستحقاق ({dueDate}).\n" +
		"• الإجمالي: {totalAmount}\n" +
		"• المدفوع: {amountPaid}\n" +
		"• المتبقي: {remainingAmount}\n\n" +
		"تفاصيل الفاتورة: {invoiceLink}",

	"paymentBeforeDueReminder": "مرحباً {customerName}\n\n" +
		"نذكرك بأن الفاتورة رقم #{invoiceId} مستحقة بتاريخ {dueDate}.\n" +
		"• المتبقي: {remainingAmount}\n\n" +
		"تفاصيل الفاتورة: {invoiceLink}",

	"paymentReceivedMessage": "مرحباً {customerName}، تم استلام دفعة بمبلغ {paymentAmount} على الفاتورة رقم #{invoiceId} بتاريخ {paymentDate}. " +
		"المتبقي: {remainingAmount}. التفاصيل: {paymentLink}",
}
